package gateway

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// FloodWaitError is a provider signal asking the session to stay quiet for
// Wait before the next call.
type FloodWaitError struct {
	Wait time.Duration
	Err  error
}

func (e *FloodWaitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("flood wait %s", e.Wait)
	}
	return fmt.Sprintf("flood wait %s: %v", e.Wait, e.Err)
}

func (e *FloodWaitError) Unwrap() error { return e.Err }

// Classifier extracts a flood wait from a provider error.
type Classifier func(err error) (time.Duration, bool)

var floodWaitRe = regexp.MustCompile(`FLOOD_WAIT_(\d+)`)

// ClassifyFloodWait recognises *FloodWaitError and MTProto style
// "FLOOD_WAIT_N" messages.
func ClassifyFloodWait(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Wait, true
	}
	m := floodWaitRe.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	n, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}
