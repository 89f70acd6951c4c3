package broker

import (
	"encoding/json"

	extErrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
)

var _ Producer = &AMQPBroker{}

const instanceEventExchange string = "instance_events"

// AMQPBroker publishes instance events via RabbitMQ
type AMQPBroker struct {
	connection *amqp.Connection
	channel    *amqp.Channel
}

// NewAMQPBroker returns an event Producer over RabbitMQ
func NewAMQPBroker(amqpURI string) (*AMQPBroker, error) {
	amqpConn, err := amqp.Dial(amqpURI)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	amqpChan, err := amqpConn.Channel()
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot create broker channel")
	}
	broker := &AMQPBroker{
		connection: amqpConn,
		channel:    amqpChan,
	}
	if err := broker.setupEventExchange(); err != nil {
		return nil, extErrors.Wrap(err, "Cannot declare exchange for instance events")
	}
	return broker, nil
}

func (a *AMQPBroker) setupEventExchange() error {
	return a.channel.ExchangeDeclare(
		instanceEventExchange, // name
		"topic",               // type
		true,                  // durable
		false,                 // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	)
}

// Close will close the channel and connection to release resources
func (a *AMQPBroker) Close() {
	a.channel.Close()
	a.connection.Close()
}

// PublishEvent publishes the event with routing key
// "instance.<serverId>.<source>" so consumers can subscribe per instance or
// per source.
func (a *AMQPBroker) PublishEvent(e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return extErrors.Wrap(err, "Cannot encode event into bytes")
	}
	if err := a.channel.Publish(
		instanceEventExchange,
		"instance."+e.ServerID+"."+e.Source,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	); err != nil {
		return extErrors.Wrap(err, "Cannot publish instance event")
	}
	return nil
}
