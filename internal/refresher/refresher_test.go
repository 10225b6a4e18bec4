package refresher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postcast/internal/account"
	"postcast/internal/clock"
	"postcast/internal/destination"
	"postcast/pkg/logx"
)

type loginAdapter struct {
	id     string
	checks []string
	err    error
}

func (a *loginAdapter) Metadata() destination.Metadata {
	return destination.Metadata{ID: a.id, DisplayName: a.id}
}

func (a *loginAdapter) CheckLoginStatus(_ context.Context, acct account.Account) (destination.LoginStatus, error) {
	a.checks = append(a.checks, acct.ID)
	if a.err != nil {
		return destination.LoginStatus{}, a.err
	}
	return destination.LoginStatus{LoggedIn: true, Username: "u-" + acct.ID}, nil
}

func (a *loginAdapter) ValidateFile(context.Context, account.Account, destination.Check) destination.Validation {
	return destination.Validation{}
}

func (a *loginAdapter) ValidateNotification(context.Context, account.Account, destination.Check) destination.Validation {
	return destination.Validation{}
}

func (a *loginAdapter) PostFile(context.Context, account.Account, destination.ComposedData) (destination.Result, error) {
	return destination.Result{}, nil
}

func (a *loginAdapter) PostNotification(context.Context, account.Account, destination.ComposedData) (destination.Result, error) {
	return destination.Result{}, nil
}

func TestRunOnceRecordsEveryAccount(t *testing.T) {
	ok := &loginAdapter{id: "ok"}
	broken := &loginAdapter{id: "broken", err: errors.New("token revoked")}
	reg := destination.NewRegistry(ok, broken)
	dir := account.NewStaticDirectory([]account.Account{
		{ID: "b", Destination: "ok"},
		{ID: "a", Destination: "ok"},
		{ID: "c", Destination: "broken"},
		{ID: "d", Destination: "gone"},
	})
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(reg, dir, Config{}, clock.NewFake(now), logx.Nop())

	s.RunOnce(context.Background())

	assert.Equal(t, []string{"a", "b"}, ok.checks)
	st := s.Statuses()
	require.Len(t, st, 4)
	assert.Equal(t, "u-a", st[0].Login.Username)
	assert.Equal(t, now, st[0].CheckedAt)
	assert.Equal(t, "token revoked", st[2].Error)
	assert.NotEmpty(t, st[3].Error)
}

func TestStartDisabledIsNoop(t *testing.T) {
	s := New(destination.NewRegistry(), account.NewStaticDirectory(nil), Config{}, nil, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	s.Stop(context.Background())
}

func TestApplyRejectsBadSchedule(t *testing.T) {
	s := New(destination.NewRegistry(), account.NewStaticDirectory(nil), Config{}, nil, logx.Nop())
	assert.Error(t, s.ParseSchedule("every tuesday"))
	assert.NoError(t, s.ParseSchedule(""))

	err := s.Apply(context.Background(), Config{Enabled: true, Schedule: "every tuesday"})
	assert.Error(t, err)

	require.NoError(t, s.Apply(context.Background(), Config{Enabled: true, Schedule: "@every 1h"}))
	s.Stop(context.Background())
}
