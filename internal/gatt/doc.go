// Package gatt implements the BLE transport for Oregon Scientific weather
// stations on top of go-ble.
//
// The station does not answer characteristic reads; instead it pushes its
// measurement payloads as notifications once the client subscribes. This
// package handles connecting, subscribing, reassembling multi-part
// notification packets and serving the assembled buffers to the station
// package through the station.Transport interface.
package gatt
