package telegram

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/thedetect/UTB2/internal/dispatch"
)

func textRequest(text string) dispatch.BroadcastRequest {
	return dispatch.BroadcastRequest{Text: text, Target: dispatch.TargetAll}
}

func dailyRequest(args string) (dispatch.BroadcastRequest, error) {
	t, err := dispatch.ParseTarget(args)
	if err != nil {
		return dispatch.BroadcastRequest{}, err
	}
	return dispatch.BroadcastRequest{UseDaily: true, Target: t}, nil
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return id, nil
}
