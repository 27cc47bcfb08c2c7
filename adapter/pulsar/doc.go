// Package pulsar provides an Apache Pulsar backend for xpub.
//
// Backend name: "pulsar"
//
// Every connection owns a client and a producer named after the publisher's
// producer name. Message properties become Pulsar properties and the message
// timestamp becomes the event time.
package pulsar
