package poster

import (
	"context"
	"fmt"

	"postcast/internal/cancel"
	"postcast/internal/describe"
	"postcast/internal/destination"
	"postcast/internal/submission"
	"postcast/pkg/logx"
)

// attempt runs render, validate and post for one target. Every failure
// ends up in the returned Outcome.
func (p *Poster) attempt(ctx context.Context, sub *submission.Submission, t submission.Target, tok *cancel.Token) destination.Outcome {
	o := destination.Outcome{Destination: t.Destination, Account: t.Account, Started: p.clock.Now()}
	log := p.log.With(logx.String("submission", sub.ID), logx.String("target", t.Key()))
	defer func() {
		if p.obs != nil {
			p.obs.ObserveOutcome(t.Destination, o.Status, o.Finished.Sub(o.Started))
		}
	}()
	finish := func(r destination.Outcome) destination.Outcome {
		r.Finished = p.clock.Now()
		switch r.Status {
		case destination.StatusSucceeded:
			log.Info("attempt succeeded", logx.Duration("took", r.Finished.Sub(r.Started)))
		case destination.StatusCancelled:
			log.Warn("attempt cancelled", logx.String("reason", r.Reason))
		default:
			log.Warn("attempt failed", logx.String("reason", r.Reason))
		}
		o = r
		return r
	}
	fail := func(format string, args ...any) destination.Outcome {
		o.Status = destination.StatusFailed
		o.Reason = fmt.Sprintf(format, args...)
		return finish(o)
	}

	adapter, err := p.reg.Get(t.Destination)
	if err != nil {
		return fail("%v", err)
	}
	acct, err := p.lookupAccount(t)
	if err != nil {
		return fail("%v", err)
	}
	meta := adapter.Metadata()

	part := sub.PartFor(t)
	desc, tags, err := p.render(sub, meta.ID, part)
	if err != nil {
		return fail("render description: %v", err)
	}

	check := destination.Check{Submission: sub, Part: part, Description: desc, Tags: tags}
	var v destination.Validation
	if sub.Kind == submission.KindFile {
		v = adapter.ValidateFile(ctx, acct, check)
	} else {
		v = adapter.ValidateNotification(ctx, acct, check)
	}
	o.Warnings = v.Warnings
	if !v.OK() {
		o.Problems = v.Problems
		return fail("validation failed: %d problem(s)", len(v.Problems))
	}

	// Cancelling the caller's context cancels the token too.
	stop := context.AfterFunc(ctx, func() { tok.Cancel("context cancelled") })
	defer stop()
	actx, release := cancel.NewContext(ctx, tok)
	defer release()
	if err := cancel.Check(actx); err != nil {
		return finish(destination.OutcomeFromError(o, err))
	}

	data := compose(sub, t, meta, part, desc, tags)
	var res destination.Result
	if sub.Kind == submission.KindFile {
		res, err = adapter.PostFile(actx, acct, data)
	} else {
		res, err = adapter.PostNotification(actx, acct, data)
	}
	if err != nil {
		return finish(destination.OutcomeFromError(o, err))
	}
	o.Status = destination.StatusSucceeded
	o.Warnings = append(o.Warnings, res.Warnings...)
	o.Result = &res
	return finish(o)
}

// compose builds the payload handed to the adapter. When the primary file
// is not accepted a fallback file replaces it; additional files are cut
// to what the destination takes.
func compose(sub *submission.Submission, t submission.Target, meta destination.Metadata, part submission.Part, desc string, tags []string) destination.ComposedData {
	data := destination.ComposedData{
		Target:      t,
		Kind:        sub.Kind,
		Title:       sub.Title,
		Description: desc,
		Tags:        tags,
		Rating:      sub.Rating,
		Options:     part.Options,
	}
	if sub.Kind != submission.KindFile {
		return data
	}
	files := sub.FilesFor(t.Account)
	if len(files) == 0 {
		return data
	}
	primary := files[0]
	if fb := sub.Files.Fallback; fb != nil && !meta.Accepts(primary) && meta.Accepts(*fb) {
		primary = *fb
	}
	data.Primary = &primary
	data.Thumbnail = sub.Files.Thumbnail
	if meta.AcceptsAdditionalFiles {
		extra := files[1:]
		if meta.MaxAdditionalFiles > 0 && len(extra) > meta.MaxAdditionalFiles {
			extra = extra[:meta.MaxAdditionalFiles]
		}
		data.Additional = extra
	}
	return data
}

func (p *Poster) render(sub *submission.Submission, dest string, part submission.Part) (string, []string, error) {
	tags := p.tags.Convert(dest, submission.UniqueTags(sub.Tags, part.Tags))
	desc, err := p.engine.Render(describe.Input{
		Description: sub.Description,
		Override:    part.Description,
		Title:       sub.Title,
		Tags:        tags,
		Destination: dest,
		Kind:        sub.Kind,
	})
	return desc, tags, err
}

// Render returns the description and tags t would be sent, without
// validating or posting.
func (p *Poster) Render(sub *submission.Submission, t submission.Target) (string, []string, error) {
	a, err := p.reg.Get(t.Destination)
	if err != nil {
		return "", nil, err
	}
	return p.render(sub, a.Metadata().ID, sub.PartFor(t))
}
