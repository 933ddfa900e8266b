package mqtt_test

import (
	"context"
	"fmt"
	"time"

	"github.com/autopeer-io/msgrelay/pkg/log"
	"github.com/autopeer-io/msgrelay/pkg/mqtt"
	"github.com/autopeer-io/msgrelay/pkg/mqtt/topic"
)

// ExampleClient shows how a relay connects, follows the outbound topic and
// publishes an inbound notice.
func ExampleClient() {
	topics := topic.NewTopicBuilder("msgrelay/v1")

	cfg := &mqtt.ClientConfig{
		BrokerURL:      "tcp://localhost:1883",
		ClientID:       "msgrelay-mac-mini",
		KeepAlive:      60,
		ConnectTimeout: 5 * time.Second,
		// Keep the session so outbound notices queued while offline are delivered.
		CleanStart:  false,
		WillTopic:   topics.Status("mac-mini"),
		WillPayload: []byte("offline"),
		WillRetain:  true,
	}

	client, err := mqtt.NewClient(cfg)
	if err != nil {
		log.Error(err, "Failed to create MQTT client")
		return
	}

	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		log.Error(err, "Failed to start MQTT client")
		return
	}

	remove := client.AddConnectionListener(func(up bool, err error) {
		fmt.Println("connection up:", up, err)
	})
	defer remove()

	handler := func(ctx context.Context, topic string, payload []byte) {
		fmt.Printf("outbound notice on %s: %s\n", topic, payload)
	}
	if err := client.Subscribe(ctx, topics.Outbound("mac-mini"), 1, handler); err != nil {
		log.Error(err, "Failed to subscribe")
	}

	if err := client.AwaitConnection(ctx); err != nil {
		log.Error(err, "Connection timed out")
		return
	}

	if err := client.Publish(ctx, topics.Inbound("mac-mini"), 1, false, []byte(`{"guid":"p:0/1"}`)); err != nil {
		log.Error(err, "Failed to publish")
	}

	client.Disconnect(ctx)
}
