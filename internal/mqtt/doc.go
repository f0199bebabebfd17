// Package mqtt bridges dialogue events onto an MQTT broker so dashboards
// and home automation can watch the service without polling the API.
//
// Every event published on the in-process bus is forwarded as a JSON
// payload to <prefix>/events/<kind>. A retained running token total for
// the local day is kept at <prefix>/tokens_today, and
// <prefix>/availability carries "online" while connected. A will message
// flips availability to "offline" on unexpected disconnects.
//
// Connection management uses Eclipse Paho v2's [autopaho] package, which
// reconnects automatically.
package mqtt
