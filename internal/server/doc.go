// Package server is the WebSocket and HTTP edge of a realtime node.
//
// The Hub owns client connections and feeds connects, disconnects and inbound
// frames into the realtime package. Handlers expose the upgrade endpoint, a
// health check, a presence snapshot and a browser test page. Configuration is
// read from the environment.
package server
