// Package station models an Oregon Scientific BLE weather station: it
// decodes raw GATT characteristic payloads into typed, validated sensor
// readings and tracks per-channel current/min/max state.
//
// The package implements:
//   - Binary decoding of the station's notification payloads (temperature,
//     humidity, clock, sensor presence, low battery)
//   - Four fixed sensor channels (0 internal, 1-3 external) storing the
//     device-reported readings and running extremes
//   - A read pass orchestrator that maps characteristic identities to
//     measurements and tolerates per-slot failures
//   - Immutable snapshots of all channels for concurrent consumers
//
// The BLE transport itself is an external collaborator consumed through the
// Transport interface; see the gatt package for the go-ble implementation.
package station
