package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const ExchangeNotifications = "notifications_fanout"

type Config struct {
	WebhookURL   string
	WebhookToken string
	AMQPURL      string
}

// New picks a provider by name. Unknown kinds fall back to logging.
func New(kind string, cfg Config) (Provider, error) {
	switch kind {
	case "", "log":
		return LogProvider{}, nil
	case "noop":
		return NoopProvider{}, nil
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, errors.New("webhook notifier needs NOTIFY_WEBHOOK_URL")
		}
		return &WebhookProvider{URL: cfg.WebhookURL, Token: cfg.WebhookToken, Client: &http.Client{Timeout: 5 * time.Second}}, nil
	case "amqp":
		p, err := DialAMQP(cfg.AMQPURL)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		log.Printf("unknown notifier %q, logging instead", kind)
		return LogProvider{}, nil
	}
}

type LogProvider struct{}

func (LogProvider) Send(ctx context.Context, msg Message) error {
	log.Printf("notify channel=%s recipient=%s order=%s: %s", msg.Channel, msg.Recipient, msg.Order.OrderID, msg.Body)
	return nil
}

type NoopProvider struct{}

func (NoopProvider) Send(ctx context.Context, msg Message) error { return nil }

type WebhookProvider struct {
	URL    string
	Token  string
	Client *http.Client
}

func (p *WebhookProvider) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook rejected notification: status %d", resp.StatusCode)
	}
	return nil
}

// AMQPProvider hands notifications to the delivery workers behind a fanout
// exchange.
type AMQPProvider struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func DialAMQP(url string) (*AMQPProvider, error) {
	if url == "" {
		return nil, errors.New("amqp notifier needs AMQP_URL")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(ExchangeNotifications, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &AMQPProvider{conn: conn, ch: ch}, nil
}

func (p *AMQPProvider) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, ExchangeNotifications, "", false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		ContentType:  "application/json",
		Body:         body,
	})
}

func (p *AMQPProvider) Close() {
	if p == nil {
		return
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
