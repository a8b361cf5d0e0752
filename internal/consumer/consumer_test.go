package consumer

import (
	"strings"
	"testing"
)

func TestNewConsumer(t *testing.T) {
	tests := []struct {
		name    string
		brokers string
		topic   string
		groupID string
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid consumer",
			brokers: "localhost:9092",
			topic:   "fleet.telemetry",
			groupID: "notifier-group",
			wantErr: false,
		},
		{
			name:    "empty brokers",
			brokers: "",
			topic:   "fleet.telemetry",
			groupID: "notifier-group",
			wantErr: true,
			errMsg:  "brokers cannot be empty",
		},
		{
			name:    "empty topic",
			brokers: "localhost:9092",
			topic:   "",
			groupID: "notifier-group",
			wantErr: true,
			errMsg:  "topic cannot be empty",
		},
		{
			name:    "empty groupID",
			brokers: "localhost:9092",
			topic:   "fleet.telemetry",
			groupID: "",
			wantErr: true,
			errMsg:  "groupID cannot be empty",
		},
		{
			name:    "multiple brokers with spaces",
			brokers: "localhost:9092, localhost:9093",
			topic:   "fleet.telemetry",
			groupID: "notifier-group",
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewConsumer(tt.brokers, tt.topic, tt.groupID)
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewConsumer() error = nil, want error")
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("error = %q, want it to contain %q", err.Error(), tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewConsumer() error = %v", err)
			}
			defer c.Close()
		})
	}
}

func TestErrMalformed(t *testing.T) {
	err := &ErrMalformed{Offset: 42, Err: errInvalid}
	if !strings.Contains(err.Error(), "42") {
		t.Errorf("Error() = %q, want offset in message", err.Error())
	}
	if err.Unwrap() != errInvalid {
		t.Error("Unwrap() did not return the inner error")
	}
}

var errInvalid = &jsonError{}

type jsonError struct{}

func (*jsonError) Error() string { return "invalid character" }
