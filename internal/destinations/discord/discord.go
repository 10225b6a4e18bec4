// Package discord posts submissions through Discord channel webhooks.
package discord

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"

	"postcast/internal/account"
	"postcast/internal/cancel"
	"postcast/internal/destination"
	"postcast/internal/gateway"
	"postcast/internal/richtext"
	"postcast/internal/submission"
	"postcast/pkg/logx"
)

const (
	ID = "discord"

	contentLimit  = 2000
	attachmentMax = 10
	fileSizeLimit = 25 * 1000 * 1000
	spoilerPrefix = "SPOILER_"
)

var acceptedExtensions = []string{"png", "jpeg", "jpg", "gif", "webp", "mp4", "mov", "webm", "mp3", "wav", "txt", "pdf"}

type Credentials struct {
	Webhook string `json:"webhook" validate:"required,url"`
}

type Options struct {
	UseTitle bool `json:"use_title"`
	Spoiler  bool `json:"spoiler"`
}

type Adapter struct {
	deps destination.Deps
	hook Webhook
	log  logx.Logger
}

func New(deps destination.Deps, hook Webhook) *Adapter {
	deps = deps.WithDefaults()
	deps.Gateway.AddClassifier(ClassifyRateLimit)
	return &Adapter{
		deps: deps,
		hook: hook,
		log:  deps.Log.With(logx.String("comp", "destination"), logx.String("destination", ID)),
	}
}

func (a *Adapter) Metadata() destination.Metadata {
	return destination.Metadata{
		ID:                     ID,
		DisplayName:            "Discord",
		AcceptedExtensions:     acceptedExtensions,
		AcceptsAdditionalFiles: true,
		Advertisement:          true,
		Formatter:              richtext.Markdown,
	}
}

func (a *Adapter) webhook(acct account.Account) (string, string, error) {
	var cr Credentials
	if err := acct.Decode(&cr); err != nil {
		return "", "", err
	}
	if err := destination.ValidateStruct(cr); err != nil {
		return "", "", err
	}
	return ParseWebhookURL(cr.Webhook)
}

func (a *Adapter) session(acct account.Account) *gateway.Session {
	return a.deps.Session(ID, acct.ID, a.Metadata().MinInterval)
}

func (a *Adapter) CheckLoginStatus(ctx context.Context, acct account.Account) (destination.LoginStatus, error) {
	id, token, err := a.webhook(acct)
	if err != nil {
		return destination.LoginStatus{}, err
	}
	name, err := gateway.Do(ctx, a.session(acct), "webhooks.get", func(ctx context.Context) (string, error) {
		return a.hook.Name(ctx, id, token)
	})
	if err != nil {
		return destination.LoginStatus{}, err
	}
	return destination.LoginStatus{LoggedIn: true, Username: name}, nil
}

func (a *Adapter) ValidateFile(_ context.Context, acct account.Account, c destination.Check) destination.Validation {
	v := a.validateText(acct, c)
	for _, f := range c.Submission.FilesFor(acct.ID) {
		if !a.Metadata().Accepts(f) {
			v.Problem("Does not support file format: (%s) %s.", f.Name, f.MimeType)
		}
		if f.Len() > fileSizeLimit {
			v.Problem("Discord limits files to %s: (%s).", humanize.Bytes(fileSizeLimit), f.Name)
		}
	}
	return v
}

func (a *Adapter) ValidateNotification(_ context.Context, acct account.Account, c destination.Check) destination.Validation {
	return a.validateText(acct, c)
}

func (a *Adapter) validateText(acct account.Account, c destination.Check) destination.Validation {
	var v destination.Validation
	if _, _, err := a.webhook(acct); err != nil {
		v.Problem("Webhook is not configured: %v", err)
	}
	var opts Options
	if err := destination.DecodeOptions(c.Part.Options, &opts); err != nil {
		v.Problem("Invalid options: %v", err)
	}
	if n := richtext.Length(c.Description); n > contentLimit {
		v.Warn("Description is %d characters; Discord messages are cut at %d.", n, contentLimit)
	}
	return v
}

// PostFile sends the text with the first ten attachments; the remaining
// files follow in attachment-only messages.
func (a *Adapter) PostFile(ctx context.Context, acct account.Account, data destination.ComposedData) (destination.Result, error) {
	opts, id, token, err := a.prepare(acct, data)
	if err != nil {
		return destination.Result{}, err
	}
	sess := a.session(acct)
	spoiler := opts.Spoiler || data.Rating == submission.RatingAdult || data.Rating == submission.RatingExtreme

	var first, last *discordgo.Message
	for i, chunk := range destination.Chunk(data.Files(), attachmentMax) {
		if err := cancel.Check(ctx); err != nil {
			return destination.Result{}, err
		}
		p := &discordgo.WebhookParams{Files: attachments(chunk, spoiler)}
		if i == 0 {
			p.Content = a.content(opts, data)
		}
		m, err := a.execute(ctx, sess, id, token, p)
		if err != nil {
			return destination.Result{}, err
		}
		if first == nil {
			first = m
		}
		last = m
	}
	return a.result(first, last), nil
}

func (a *Adapter) PostNotification(ctx context.Context, acct account.Account, data destination.ComposedData) (destination.Result, error) {
	opts, id, token, err := a.prepare(acct, data)
	if err != nil {
		return destination.Result{}, err
	}
	if err := cancel.Check(ctx); err != nil {
		return destination.Result{}, err
	}
	m, err := a.execute(ctx, a.session(acct), id, token, &discordgo.WebhookParams{Content: a.content(opts, data)})
	if err != nil {
		return destination.Result{}, err
	}
	return a.result(m, m), nil
}

func (a *Adapter) prepare(acct account.Account, data destination.ComposedData) (Options, string, string, error) {
	var opts Options
	if err := destination.DecodeOptions(data.Options, &opts); err != nil {
		return opts, "", "", destination.Reject(ID, err.Error(), nil)
	}
	id, token, err := a.webhook(acct)
	if err != nil {
		return opts, "", "", destination.Reject(ID, err.Error(), nil)
	}
	return opts, id, token, nil
}

func (a *Adapter) content(opts Options, data destination.ComposedData) string {
	title := ""
	if t := strings.TrimSpace(data.Title); opts.UseTitle && t != "" {
		title = "**" + t + "**"
	}
	return destination.ComposeFirst(title, data.Description, nil, contentLimit)
}

func (a *Adapter) execute(ctx context.Context, sess *gateway.Session, id, token string, p *discordgo.WebhookParams) (*discordgo.Message, error) {
	m, err := gateway.Do(ctx, sess, "webhooks.execute", func(ctx context.Context) (*discordgo.Message, error) {
		// Readers are consumed per request; a flood retry needs fresh ones.
		for _, f := range p.Files {
			if r, ok := f.Reader.(*bytes.Reader); ok {
				_, _ = r.Seek(0, 0)
			}
		}
		return a.hook.Execute(ctx, id, token, p)
	})
	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		msg := err.Error()
		if rest.Message != nil && rest.Message.Message != "" {
			msg = rest.Message.Message
		}
		return nil, &destination.ProviderError{Destination: ID, Message: msg, Payload: string(rest.ResponseBody), Err: err}
	}
	return m, err
}

func (a *Adapter) result(first, last *discordgo.Message) destination.Result {
	var res destination.Result
	if last != nil {
		res.ID = last.ID
	}
	if first != nil && first.GuildID != "" {
		res.URL = "https://discord.com/channels/" + first.GuildID + "/" + first.ChannelID + "/" + first.ID
	}
	return res
}

func attachments(files []submission.File, spoiler bool) []*discordgo.File {
	out := make([]*discordgo.File, 0, len(files))
	for _, f := range files {
		name := f.Name
		if spoiler && !strings.HasPrefix(name, spoilerPrefix) {
			name = spoilerPrefix + name
		}
		out = append(out, &discordgo.File{Name: name, ContentType: f.MimeType, Reader: bytes.NewReader(f.Data)})
	}
	return out
}
