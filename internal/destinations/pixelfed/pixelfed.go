// Package pixelfed posts submissions to Pixelfed (Mastodon API) instances.
package pixelfed

import (
	"context"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"

	"postcast/internal/account"
	"postcast/internal/cancel"
	"postcast/internal/destination"
	"postcast/internal/gateway"
	"postcast/internal/richtext"
	"postcast/internal/submission"
	"postcast/internal/transfer"
	"postcast/pkg/logx"
)

const (
	ID = "pixelfed"

	// InstanceKey is the info store key of the cached instance document.
	InstanceKey = "instance"

	defaultMaxCharacters  = 500
	defaultMaxAttachments = 4
	defaultImageSizeLimit = 50 * 1000 * 1000
)

var acceptedExtensions = []string{"png", "jpeg", "jpg", "gif", "swf", "flv", "mp4"}

type Credentials struct {
	Token    string `json:"token" validate:"required"`
	Website  string `json:"website" validate:"required,url"`
	Username string `json:"username"`
}

type Options struct {
	UseTitle    bool   `json:"use_title"`
	Visibility  string `json:"visibility" validate:"omitempty,oneof=public unlisted private direct"`
	SpoilerText string `json:"spoiler_text"`
	AltText     string `json:"alt_text"`
	AutoScale   bool   `json:"auto_scale"`
}

func (o Options) visibility() string {
	if o.Visibility == "" {
		return "public"
	}
	return o.Visibility
}

// limits are the instance capabilities with fallbacks for a missing cache.
type limits struct {
	maxChars       int
	maxAttachments int
	imageSize      int64
}

type Adapter struct {
	deps destination.Deps
	http *http.Client
	log  logx.Logger
}

// New builds the adapter; hc may be nil.
func New(deps destination.Deps, hc *http.Client) *Adapter {
	deps = deps.WithDefaults()
	return &Adapter{
		deps: deps,
		http: hc,
		log:  deps.Log.With(logx.String("comp", "destination"), logx.String("destination", ID)),
	}
}

func (a *Adapter) Metadata() destination.Metadata {
	return destination.Metadata{
		ID:                     ID,
		DisplayName:            "Pixelfed",
		AcceptedExtensions:     acceptedExtensions,
		AcceptsAdditionalFiles: true,
		Formatter:              richtext.Plaintext,
		UsernameShortcuts: []destination.UsernameShortcut{
			{Key: "pf", URL: "https://pixelfed.social/$1"},
		},
	}
}

func (a *Adapter) client(acct account.Account) (*Client, error) {
	var cr Credentials
	if err := acct.Decode(&cr); err != nil {
		return nil, err
	}
	if err := destination.ValidateStruct(cr); err != nil {
		return nil, err
	}
	return NewClient(cr.Website, cr.Token, a.http), nil
}

func (a *Adapter) session(acct account.Account) *gateway.Session {
	return a.deps.Session(ID, acct.ID, a.Metadata().MinInterval)
}

func (a *Adapter) CheckLoginStatus(ctx context.Context, acct account.Account) (destination.LoginStatus, error) {
	c, err := a.client(acct)
	if err != nil {
		return destination.LoginStatus{}, err
	}
	if err := a.refreshToken(ctx, acct); err != nil {
		return destination.LoginStatus{}, err
	}
	sess := a.session(acct)
	name, err := gateway.Do(ctx, sess, "accounts.verify_credentials", c.VerifyCredentials)
	if err != nil {
		return destination.LoginStatus{}, err
	}
	inst, err := gateway.Do(ctx, sess, "instance", c.Instance)
	if err != nil {
		a.log.Warn("fetching instance info failed", logx.String("account", acct.ID), logx.Err(err))
	} else if err := a.deps.Info.Put(ctx, acct.ID, InstanceKey, inst); err != nil {
		a.log.Warn("caching instance info failed", logx.String("account", acct.ID), logx.Err(err))
	}
	return destination.LoginStatus{LoggedIn: true, Username: name}, nil
}

// refreshToken is kept for parity with OAuth flows; Pixelfed tokens do not
// expire, so there is nothing to do.
func (a *Adapter) refreshToken(context.Context, account.Account) error { return nil }

func (a *Adapter) limits(ctx context.Context, acct account.Account) limits {
	l := limits{maxChars: defaultMaxCharacters, maxAttachments: defaultMaxAttachments, imageSize: defaultImageSizeLimit}
	var inst Instance
	ok, err := a.deps.Info.Get(ctx, acct.ID, InstanceKey, &inst)
	if err != nil {
		a.log.Warn("reading instance info failed", logx.String("account", acct.ID), logx.Err(err))
	}
	if !ok {
		return l
	}
	if n := inst.Configuration.Statuses.MaxCharacters; n > 0 {
		l.maxChars = n
	}
	if n := inst.Configuration.Statuses.MaxMediaAttachments; n > 0 {
		l.maxAttachments = n
	}
	if n := inst.Configuration.MediaAttachments.ImageSizeLimit; n > 0 {
		l.imageSize = n
	}
	return l
}

func (a *Adapter) ValidateFile(ctx context.Context, acct account.Account, c destination.Check) destination.Validation {
	v, opts := a.validateText(ctx, acct, c)
	l := a.limits(ctx, acct)
	for _, f := range c.Submission.FilesFor(acct.ID) {
		if !a.Metadata().Accepts(f) {
			v.Problem("Does not support file format: (%s) %s.", f.Name, f.MimeType)
		}
		if f.Len() > l.imageSize {
			limit := humanize.Bytes(uint64(l.imageSize))
			if opts.AutoScale && strings.HasPrefix(f.MimeType, "image/") {
				v.Warn("%s will be scaled down to %s", f.Name, limit)
			} else {
				v.Problem("Pixelfed limits %s to %s", f.MimeType, limit)
			}
		}
	}
	return v
}

func (a *Adapter) ValidateNotification(ctx context.Context, acct account.Account, c destination.Check) destination.Validation {
	v, _ := a.validateText(ctx, acct, c)
	v.Problem("Pixelfed posts need at least one image.")
	return v
}

func (a *Adapter) validateText(ctx context.Context, acct account.Account, c destination.Check) (destination.Validation, Options) {
	var v destination.Validation
	var opts Options
	if err := destination.DecodeOptions(c.Part.Options, &opts); err != nil {
		v.Problem("Invalid options: %v", err)
	}
	l := a.limits(ctx, acct)
	if richtext.Length(c.Description) > l.maxChars {
		v.Warn("Max description length allowed is %d characters (for this Pixelfed client).", l.maxChars)
	}
	if len(c.Tags) > 0 && opts.visibility() != "public" {
		v.Warn("This post won't be listed under any hashtag as it is not public. Only public posts can be searched by hashtag.")
	}
	return v, opts
}

// PostFile uploads every file, then posts them in chunks of the instance's
// attachment limit. The first status carries the text; later ones reply to
// the previous status.
func (a *Adapter) PostFile(ctx context.Context, acct account.Account, data destination.ComposedData) (destination.Result, error) {
	var opts Options
	if err := destination.DecodeOptions(data.Options, &opts); err != nil {
		return destination.Result{}, destination.Reject(ID, err.Error(), nil)
	}
	c, err := a.client(acct)
	if err != nil {
		return destination.Result{}, err
	}
	sess := a.session(acct)
	l := a.limits(ctx, acct)

	var res destination.Result
	var ids []string
	for _, f := range data.Files() {
		if err := cancel.Check(ctx); err != nil {
			return destination.Result{}, err
		}
		id, warn, err := a.upload(ctx, sess, c, f, opts.AltText)
		if err != nil {
			return destination.Result{}, err
		}
		if warn != "" {
			res.Warnings = append(res.Warnings, warn)
		}
		ids = append(ids, id)
	}

	title := ""
	if opts.UseTitle {
		title = data.Title
	}
	sensitive := data.Rating != "" && data.Rating != submission.RatingGeneral

	var last string
	for i, chunk := range destination.Chunk(ids, l.maxAttachments) {
		if err := cancel.Check(ctx); err != nil {
			return destination.Result{}, err
		}
		form := StatusForm{
			MediaIDs:    chunk,
			Sensitive:   sensitive,
			Visibility:  opts.visibility(),
			SpoilerText: opts.SpoilerText,
		}
		if i == 0 {
			form.Status = destination.ComposeFirst(title, data.Description, data.Tags, l.maxChars)
		} else {
			form.InReplyToID = last
		}
		st, err := gateway.Do(ctx, sess, "statuses.create", func(ctx context.Context) (Status, error) {
			return c.PostStatus(ctx, form)
		})
		if err != nil {
			return destination.Result{}, err
		}
		if st.ID == "" || st.Error != "" {
			return destination.Result{}, destination.Reject(ID, st.Error, st)
		}
		if i == 0 {
			res.URL = st.URL
		}
		last = st.ID
	}
	res.ID = last
	a.log.Info("posted file", logx.String("account", acct.ID), logx.Int("media", len(ids)), logx.String("status", last))
	return res, nil
}

func (a *Adapter) upload(ctx context.Context, sess *gateway.Session, c *Client, f submission.File, alt string) (string, string, error) {
	m, err := gateway.Do(ctx, sess, "media.upload", func(ctx context.Context) (Media, error) {
		return c.UploadMedia(ctx, f.Name, f.Data, alt)
	})
	if err != nil {
		return "", "", err
	}
	if m.Errors != nil {
		return "", "", destination.Reject(ID, "media upload rejected", m)
	}
	if !m.Pending {
		return m.ID, "", nil
	}
	pr, err := a.deps.Transfer.Poll(ctx, sess, func(ctx context.Context) (transfer.PollStatus, error) {
		cur, err := c.Media(ctx, m.ID)
		if err != nil {
			return transfer.PollStatus{}, err
		}
		return transfer.PollStatus{Ready: cur.URL != "", Errors: mediaErrors(cur.Errors)}, nil
	})
	if err != nil {
		return "", "", err
	}
	return m.ID, pr.Warning, nil
}

func mediaErrors(v any) []string {
	switch e := v.(type) {
	case nil:
		return nil
	case string:
		return []string{e}
	case []any:
		out := make([]string, 0, len(e))
		for _, x := range e {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{"unrecognised processing error"}
	}
}

func (a *Adapter) PostNotification(context.Context, account.Account, destination.ComposedData) (destination.Result, error) {
	return destination.Result{}, destination.Reject(ID, "text-only posts are not supported", nil)
}
