package options

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"127.0.0.1:9464", false},
		{":8080", false},
		{"[::1]:443", false},
		{"localhost", true},
		{"localhost:http", true},
		{"localhost:70000", true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			err := ValidateAddress(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultsAreValid(t *testing.T) {
	sets := map[string]IOptions{
		"http":     NewHttpOptions(),
		"grpc":     NewGrpcOptions(),
		"postgres": NewPostgresOptions(),
		"s3":       NewS3Options(),
		"mqtt":     NewMqttOptions(),
		"local":    NewLocalStoreOptions(),
		"queue":    NewQueueOptions(),
		"delivery": NewDeliveryOptions(),
		"executor": NewExecutorOptions(),
		"inbound":  NewInboundOptions(),
	}

	for name, o := range sets {
		t.Run(name, func(t *testing.T) {
			assert.Empty(t, o.Validate())
		})
	}
}

func TestQueueDefaults(t *testing.T) {
	o := NewQueueOptions()
	assert.Equal(t, 4, o.MaxAttempts)
	assert.Equal(t, time.Second, o.BaseDelay)
	assert.Equal(t, 5*time.Second, NewDeliveryOptions().PollInterval)
}

func TestDeliveryOptionsRejectsUnknownChannel(t *testing.T) {
	o := NewDeliveryOptions()
	o.PushChannel = "websocket"
	o.PollInterval = time.Millisecond

	assert.Len(t, o.Validate(), 2)
}

func TestPostgresOptionsValidate(t *testing.T) {
	o := NewPostgresOptions()
	o.MaxConns = 1
	o.NotifyChannel = "Outbound-New"

	errs := o.Validate()
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "max-conns")
}

func TestMqttOptionsComplete(t *testing.T) {
	o := NewMqttOptions()
	o.RelayID = "mac-mini"
	require.NoError(t, o.Complete())

	assert.Equal(t, "msgrelay-mac-mini", o.ClientID)

	cfg := o.ToClientConfig()
	assert.Equal(t, uint16(60), cfg.KeepAlive)
	assert.Equal(t, o.Broker, cfg.BrokerURL)
}

func TestAddFlagsOverridesDefaults(t *testing.T) {
	q := NewQueueOptions()
	d := NewDeliveryOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	q.AddFlags(fs)
	d.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{"--queue.max-attempts=2", "--delivery.push-channel=mqtt", "--delivery.poll-interval=1s", "--delivery.page-size=50"}))

	assert.Equal(t, 2, q.MaxAttempts)
	assert.Equal(t, PushChannelMqtt, d.PushChannel)
	assert.Equal(t, time.Second, d.PollInterval)
	assert.Equal(t, 50, d.PageSize)
}

func TestDeliveryOptionsRejectsEmptyPage(t *testing.T) {
	o := NewDeliveryOptions()
	o.PageSize = 0
	o.RetryInterval = time.Millisecond
	assert.Len(t, o.Validate(), 2)
}

func TestHttpOptionsValidate(t *testing.T) {
	o := NewHttpOptions()
	assert.Equal(t, "http://127.0.0.1:9464/status", o.StatusURL())

	o.Network = "unix"
	o.Timeout = 0
	o.ShutdownTimeout = -time.Second
	assert.Len(t, o.Validate(), 3)
}
