package rabbitbus

import (
	"context"

	"github.com/muzin/wechatapi-sub000/pkg/log"

	mq "github.com/rabbitmq/amqp091-go"
)

type Writer struct {
	ch *mq.Channel

	logger log.Logger
}

func (s *Service) NewWriter() (*Writer, error) {
	ch, err := s.channel()
	if err != nil {
		return nil, err
	}

	return &Writer{
		ch:     ch,
		logger: s.logger,
	}, nil
}

func (w *Writer) WriteToExchange(ctx context.Context, exchangeName, routingKey string, data []byte) error {
	return w.ch.PublishWithContext(
		ctx,
		exchangeName,
		routingKey,
		false,
		false,
		mq.Publishing{
			DeliveryMode: mq.Persistent,
			ContentType:  "application/json",
			Body:         data,
		},
	)
}

func (w *Writer) Close() error {
	return w.ch.Close()
}
