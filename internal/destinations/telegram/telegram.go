// Package telegram posts submissions to Telegram channels.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"postcast/internal/account"
	"postcast/internal/cancel"
	"postcast/internal/destination"
	"postcast/internal/gateway"
	"postcast/internal/richtext"
	"postcast/internal/transfer"
	"postcast/pkg/logx"
)

const (
	ID = "telegram"

	// FoldersKey is the info store key of the cached channel list.
	FoldersKey = "folders"

	captionLimit = 1024
	messageLimit = 4096
)

var acceptedExtensions = []string{"jpg", "jpeg", "gif", "png"}

var photoExtensions = map[string]bool{"jpg": true, "jpeg": true, "png": true}

// Credentials are decoded from the account data.
type Credentials struct {
	BotToken string  `json:"bot_token"`
	Channels []int64 `json:"channels"`
}

type Options struct {
	Channels []string `json:"channels"`
	Silent   bool     `json:"silent"`
}

// Dialer builds the protocol client of one account.
type Dialer func(ctx context.Context, acct account.Account) (Client, error)

// BotDialer dials BotClient from the account's bot token.
func BotDialer(_ context.Context, acct account.Account) (Client, error) {
	var c Credentials
	if err := acct.Decode(&c); err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.BotToken) == "" {
		return nil, fmt.Errorf("telegram: account %s has no bot_token", acct.ID)
	}
	return NewBotClient(c.BotToken, c.Channels)
}

type Adapter struct {
	deps destination.Deps
	dial Dialer
	log  logx.Logger

	mu      sync.Mutex
	clients map[string]Client
}

func New(deps destination.Deps, dial Dialer) *Adapter {
	deps = deps.WithDefaults()
	if dial == nil {
		dial = BotDialer
	}
	deps.Gateway.AddClassifier(ClassifyBotFlood)
	return &Adapter{
		deps:    deps,
		dial:    dial,
		log:     deps.Log.With(logx.String("comp", "destination"), logx.String("destination", ID)),
		clients: map[string]Client{},
	}
}

func (a *Adapter) Metadata() destination.Metadata {
	return destination.Metadata{
		ID:                     ID,
		DisplayName:            "Telegram",
		AcceptedExtensions:     acceptedExtensions,
		AcceptsAdditionalFiles: true,
		Advertisement:          true,
		Formatter:              richtext.Plaintext,
		MinInterval:            2 * time.Second,
		UsernameShortcuts: []destination.UsernameShortcut{
			{Key: "tg", URL: "https://t.me/$1"},
		},
	}
}

func (a *Adapter) client(ctx context.Context, acct account.Account) (Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.clients[acct.ID]; ok {
		return c, nil
	}
	c, err := a.dial(ctx, acct)
	if err != nil {
		return nil, err
	}
	a.clients[acct.ID] = c
	return c, nil
}

func (a *Adapter) session(acct account.Account) *gateway.Session {
	return a.deps.Session(ID, acct.ID, a.Metadata().MinInterval)
}

// CheckLoginStatus confirms the session and refreshes the cached channel
// list validation reads.
func (a *Adapter) CheckLoginStatus(ctx context.Context, acct account.Account) (destination.LoginStatus, error) {
	c, err := a.client(ctx, acct)
	if err != nil {
		return destination.LoginStatus{}, err
	}
	sess := a.session(acct)
	name, err := gateway.Do(ctx, sess, "users.getMe", c.Me)
	if err != nil {
		return destination.LoginStatus{}, err
	}
	chans, err := gateway.Do(ctx, sess, "messages.getAllChats", c.Channels)
	if err != nil {
		return destination.LoginStatus{}, err
	}
	if err := a.deps.Info.Put(ctx, acct.ID, FoldersKey, chans); err != nil {
		a.log.Warn("caching channels failed", logx.String("account", acct.ID), logx.Err(err))
	}
	return destination.LoginStatus{LoggedIn: true, Username: name}, nil
}

func (a *Adapter) ValidateFile(ctx context.Context, acct account.Account, c destination.Check) destination.Validation {
	v := a.validateChannels(ctx, acct, c)
	for _, f := range c.Submission.FilesFor(acct.ID) {
		if !a.Metadata().Accepts(f) {
			v.Problem("Currently supported file formats: %s", strings.Join(acceptedExtensions, ", "))
			break
		}
	}
	if n := richtext.Length(c.Description); n > captionLimit {
		v.Warn("Description is %d characters; captions are cut at %d.", n, captionLimit)
	}
	return v
}

func (a *Adapter) ValidateNotification(ctx context.Context, acct account.Account, c destination.Check) destination.Validation {
	v := a.validateChannels(ctx, acct, c)
	if n := richtext.Length(c.Description); n > messageLimit {
		v.Warn("Description is %d characters; messages are cut at %d.", n, messageLimit)
	}
	return v
}

func (a *Adapter) validateChannels(ctx context.Context, acct account.Account, c destination.Check) destination.Validation {
	var v destination.Validation
	var opts Options
	if err := destination.DecodeOptions(c.Part.Options, &opts); err != nil {
		v.Problem("Invalid options: %v", err)
		return v
	}
	if len(opts.Channels) == 0 {
		v.Problem("No channel(s) selected.")
		return v
	}
	var known []Channel
	if _, err := a.deps.Info.Get(ctx, acct.ID, FoldersKey, &known); err != nil {
		a.log.Warn("reading cached channels failed", logx.String("account", acct.ID), logx.Err(err))
	}
	for _, ch := range opts.Channels {
		if !hasChannel(known, ch) {
			v.Problem("Folder (%s) not found.", ch)
		}
	}
	return v
}

func hasChannel(known []Channel, value string) bool {
	want, err := ParseChannel(value)
	if err != nil {
		return false
	}
	for _, k := range known {
		if k.ID == want.ID {
			return true
		}
	}
	return false
}

// PostFile uploads every file once, then sends them to each channel. With
// several files the description rides on the first.
func (a *Adapter) PostFile(ctx context.Context, acct account.Account, data destination.ComposedData) (destination.Result, error) {
	opts, chans, err := a.prepare(data)
	if err != nil {
		return destination.Result{}, err
	}
	c, err := a.client(ctx, acct)
	if err != nil {
		return destination.Result{}, err
	}
	sess := a.session(acct)

	var sender transfer.PartSender = transfer.PartSenderFunc(c.SaveFilePart)
	if r, ok := c.(Releaser); ok {
		// Parts go out sequentially on this goroutine.
		uploaded := map[int64]struct{}{}
		sender = transfer.PartSenderFunc(func(ctx context.Context, p transfer.Part) error {
			uploaded[p.FileID] = struct{}{}
			return c.SaveFilePart(ctx, p)
		})
		defer func() {
			for id := range uploaded {
				r.Release(id)
			}
		}()
	}

	files := data.Files()
	media := make([]Media, 0, len(files))
	for _, f := range files {
		if err := cancel.Check(ctx); err != nil {
			return destination.Result{}, err
		}
		h, err := a.deps.Transfer.Upload(ctx, sess, f, sender)
		if err != nil {
			return destination.Result{}, err
		}
		media = append(media, Media{File: h, MimeType: f.MimeType, Photo: photoExtensions[f.Ext()]})
	}

	caption := richtext.Truncate(data.Description, captionLimit)
	var last int64
	for _, ch := range chans {
		for i, m := range media {
			if err := cancel.Check(ctx); err != nil {
				return destination.Result{}, err
			}
			if i == 0 {
				m.Caption = caption
			}
			id, err := gateway.Do(ctx, sess, "messages.sendMedia", func(ctx context.Context) (int64, error) {
				return c.SendMedia(ctx, ch, m, opts.Silent)
			})
			if err != nil {
				return destination.Result{}, err
			}
			last = id
		}
	}
	a.log.Info("posted file", logx.String("account", acct.ID), logx.Int("channels", len(chans)), logx.Int("files", len(media)))
	return destination.Result{ID: strconv.FormatInt(last, 10)}, nil
}

func (a *Adapter) PostNotification(ctx context.Context, acct account.Account, data destination.ComposedData) (destination.Result, error) {
	opts, chans, err := a.prepare(data)
	if err != nil {
		return destination.Result{}, err
	}
	c, err := a.client(ctx, acct)
	if err != nil {
		return destination.Result{}, err
	}
	sess := a.session(acct)
	text := richtext.Truncate(data.Description, messageLimit)

	var last int64
	for _, ch := range chans {
		if err := cancel.Check(ctx); err != nil {
			return destination.Result{}, err
		}
		id, err := gateway.Do(ctx, sess, "messages.sendMessage", func(ctx context.Context) (int64, error) {
			return c.SendMessage(ctx, ch, text, opts.Silent)
		})
		if err != nil {
			return destination.Result{}, err
		}
		last = id
	}
	return destination.Result{ID: strconv.FormatInt(last, 10)}, nil
}

func (a *Adapter) prepare(data destination.ComposedData) (Options, []Channel, error) {
	var opts Options
	if err := destination.DecodeOptions(data.Options, &opts); err != nil {
		return opts, nil, destination.Reject(ID, err.Error(), nil)
	}
	chans := make([]Channel, 0, len(opts.Channels))
	for _, v := range opts.Channels {
		ch, err := ParseChannel(v)
		if err != nil {
			return opts, nil, destination.Reject(ID, err.Error(), nil)
		}
		chans = append(chans, ch)
	}
	if len(chans) == 0 {
		return opts, nil, destination.Reject(ID, "no channel selected", nil)
	}
	return opts, chans, nil
}
