// Package amqp provides a RabbitMQ (AMQP 0-9-1) backend for xpub.
//
// Backend name: "amqp"
//
// The topic is the routing key. Every send is published in confirm mode and
// waits for the broker's ack, so a message counts as sent only once RabbitMQ
// took responsibility for it. Message properties become AMQP headers; the
// message id, timestamp and producer name map to MessageId, Timestamp and AppId.
package amqp
