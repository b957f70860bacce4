package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeConfig(t *testing.T) {
	cfg, err := DecodeConfig(CreatePunchItem, []byte(`{"title":"Failed inspection follow-up","priority":"high"}`))
	require.NoError(t, err)
	punch, ok := cfg.(CreatePunchItemConfig)
	require.True(t, ok)
	assert.Equal(t, "high", punch.Priority)

	cfg, err = DecodeConfig(SendNotification, []byte(`{"recipients":["pm"],"subject":"Overdue RFI"}`))
	require.NoError(t, err)
	_, ok = cfg.(SendNotificationConfig)
	assert.True(t, ok)
}

func TestDecodeConfigRejectsBadInput(t *testing.T) {
	cases := []struct {
		t   Type
		raw string
	}{
		{"escalate_harder", `{}`},                              // unknown type
		{CreatePunchItem, `{}`},                                // missing title
		{CreatePunchItem, `{"title":"x","bogus":true}`},        // unknown field
		{SendNotification, `{"recipients":[],"subject":"s"}`},  // no recipients
		{SendNotification, `{"recipients":["a"]}`},             // no subject
		{CreateTask, `{"title":"t","due_in_days":-1}`},         // negative delay
		{AssignUser, `{"role":"supervisor"}`},                  // missing user
		{ChangeStatus, `{"status":"  "}`},                      // blank status
		{CreateInspection, `{"assignee_id":"u1"}`},             // missing template
		{CreateRFI, `not-json`},                                // malformed json
	}
	for _, tc := range cases {
		_, err := DecodeConfig(tc.t, []byte(tc.raw))
		assert.Error(t, err, "type=%s raw=%s", tc.t, tc.raw)
	}
}

func TestRegistry(t *testing.T) {
	reg := Registry{}
	_, ok := reg.Lookup(ChangeStatus)
	assert.False(t, ok)

	reg.Register(ChangeStatus, HandlerFunc(func(_ context.Context, _ Invocation) (Result, error) {
		return Result{Type: "task", ID: "t-1"}, nil
	}))
	h, ok := reg.Lookup(ChangeStatus)
	require.True(t, ok)
	res, err := h.Execute(context.Background(), Invocation{})
	require.NoError(t, err)
	assert.Equal(t, "t-1", res.ID)
}
