// Package mqtt provides an MQTT 3.1.1 backend for xpub built on the Eclipse
// Paho client.
//
// Backend name: "mqtt"
//
// The topic is the MQTT topic. Paho's own reconnect logic is disabled: a
// failed client is discarded and the publisher dials a new one on its next
// attempt. Sends at QoS 1 or 2 complete once the broker acknowledged them.
package mqtt
