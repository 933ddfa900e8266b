package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotification(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{name: "trigger payload", payload: `{"id":"7f1c","created_at":"2026-03-01T12:00:00+00:00"}`, want: "7f1c"},
		{name: "bare id", payload: " 7f1c\n", want: "7f1c"},
		{name: "empty", payload: "", wantErr: true},
		{name: "no id", payload: `{"created_at":"2026-03-01T12:00:00+00:00"}`, wantErr: true},
		{name: "broken json", payload: `{"id":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseNotification(tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSchemaDefinesTrigger(t *testing.T) {
	assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS outbound_messages")
	assert.Contains(t, schema, "ON outbound_messages (created_at, id) WHERE status = 'pending'")
	assert.Contains(t, schema, "pg_notify(TG_ARGV[0]")
}
