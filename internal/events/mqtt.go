package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// MQTTPublisher sends events to <prefix>/events/<cameraId> with QoS 1.
type MQTTPublisher struct {
	cli       mqtt.Client
	topicPref string
	instance  string
	log       *zap.Logger
}

// NewMQTTPublisher connects to brokerURL. The client reconnects on its own after the first connect.
func NewMQTTPublisher(brokerURL, topicPref, instance string, log *zap.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(fmt.Sprintf("homecam-relay-%s-%d", instance, time.Now().UnixNano())).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetConnectTimeout(10 * time.Second)

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	}

	cli := mqtt.NewClient(opts)
	tok := cli.Connect()
	if !tok.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout (10s) - broker unreachable at %s", brokerURL)
	}
	if tok.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", tok.Error())
	}
	log.Info("mqtt event publisher connected", zap.String("broker", brokerURL), zap.String("prefix", topicPref))
	return &MQTTPublisher{cli: cli, topicPref: topicPref, instance: instance, log: log}, nil
}

// Topic returns the topic events for cameraID are published on.
func (m *MQTTPublisher) Topic(cameraID string) string {
	return m.topicPref + "/events/" + cameraID
}

func (m *MQTTPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.Instance == "" {
		ev.Instance = m.instance
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", ev.Type, err)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	tok := m.cli.Publish(m.Topic(ev.CameraID), 1, false, b)
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish %s: %w", ev.Type, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("mqtt publish %s: timeout after %s", ev.Type, publishTimeout)
	}
}

func (m *MQTTPublisher) Close() {
	m.cli.Disconnect(250)
}
