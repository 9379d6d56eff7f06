// Package stream delivers readings to websocket clients as they are ingested.
//
// The ingestion handler publishes every stored batch to a Broadcaster keyed
// by sensor system ID. Each websocket connection served by Handler holds one
// subscription; its writer loop forwards events as JSON text frames and sends
// periodic pings, and its reader loop ends the subscription when the client
// goes away. Delivery is best effort: events are dropped for clients that
// fall more than a buffer behind.
package stream
