package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/ecolog-backend/internal/goroutine"
	"github.com/ignatzorin/ecolog-backend/internal/logger"
	"github.com/ignatzorin/ecolog-backend/internal/models"
)

const (
	ExchangeName = "ecolog.reports"

	reconnectDelay = 5 * time.Second
	publishTimeout = 5 * time.Second
	queueSize      = 256
)

// channel — часть amqp.Channel, которая нужна для публикации.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher отправляет события хранилища в topic exchange ecolog.reports.
// Routing key — тип события. События ставятся в очередь и публикуются
// отдельной горутиной, подписчик хранилища не блокируется.
type Publisher struct {
	url string

	mu   sync.RWMutex
	conn *amqp.Connection
	ch   channel

	queue     chan models.ReportEvent
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPublisher подключается к брокеру (с повторами) и запускает фоновую публикацию.
func NewPublisher(ctx context.Context, url string) (*Publisher, error) {
	p := newPublisher(nil)
	p.url = url

	err := retry.Do(
		p.connect,
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Component("rabbitmq").WithFields(logrus.Fields{
				"attempt": n + 1,
				"error":   err.Error(),
			}).Warn("брокер недоступен, повтор")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("messaging: не удалось подключиться к RabbitMQ: %w", err)
	}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.handleReconnect()
	}()
	go func() {
		defer p.wg.Done()
		p.run()
	}()

	return p, nil
}

func newPublisher(ch channel) *Publisher {
	return &Publisher{
		ch:    ch,
		queue: make(chan models.ReportEvent, queueSize),
		done:  make(chan struct{}),
	}
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("messaging: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("messaging: open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("messaging: declare exchange: %w", err)
	}

	p.mu.Lock()
	p.conn, p.ch = conn, ch
	p.mu.Unlock()

	logger.Component("rabbitmq").WithField("exchange", ExchangeName).Info("RabbitMQ подключён")
	return nil
}

func (p *Publisher) handleReconnect() {
	for {
		p.mu.RLock()
		conn := p.conn
		p.mu.RUnlock()

		closed := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-p.done:
			return
		case err := <-closed:
			if err != nil {
				logger.Component("rabbitmq").WithError(err).Warn("соединение потеряно, переподключение")
			}
		}

		for {
			err := p.connect()
			if err == nil {
				break
			}
			logger.Component("rabbitmq").WithError(err).Warnf("повтор через %v", reconnectDelay)
			select {
			case <-p.done:
				return
			case <-time.After(reconnectDelay):
			}
		}
	}
}

// PublishReportEvent ставит событие в очередь: store.Subscribe(publisher.PublishReportEvent).
func (p *Publisher) PublishReportEvent(ev models.ReportEvent) {
	select {
	case <-p.done:
		return
	default:
	}

	select {
	case p.queue <- ev:
	default:
		logger.Component("rabbitmq").WithField("event", ev.EventID.String()).Warn("очередь публикации переполнена, событие отброшено")
	}
}

func (p *Publisher) run() {
	for {
		select {
		case ev := <-p.queue:
			p.publishLogged(ev)
		case <-p.done:
			// дослать то, что уже в очереди
			for {
				select {
				case ev := <-p.queue:
					p.publishLogged(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) publishLogged(ev models.ReportEvent) {
	goroutine.Protect("rabbitmq-publish", func() {
		if err := p.publish(ev); err != nil {
			logger.Component("rabbitmq").WithFields(logrus.Fields{
				"event": ev.EventID.String(),
				"type":  ev.Type,
				"error": err.Error(),
			}).Error("событие не опубликовано")
		}
	})
}

func (p *Publisher) publish(ev models.ReportEvent) error {
	msg, err := toPublishing(ev)
	if err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.ch == nil {
		return fmt.Errorf("messaging: канал недоступен")
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.ch.PublishWithContext(ctx, ExchangeName, ev.Type, false, false, msg); err != nil {
		return fmt.Errorf("messaging: publish: %w", err)
	}
	return nil
}

func toPublishing(ev models.ReportEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("messaging: marshal: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.EventID.String(),
		Timestamp:    ev.OccurredAt,
		Type:         ev.Type,
		Body:         body,
	}, nil
}

// Close досылает очередь и закрывает соединение.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()

		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.ch.(*amqp.Channel); ok && c != nil {
			c.Close()
		}
		if p.conn != nil {
			p.conn.Close()
		}
		logger.Component("rabbitmq").Info("RabbitMQ отключён")
	})
}
