// Package position delivers live position fixes from a GNSS source.
//
// Every source implements Provider with the same continuous-watch contract:
//   - fixes and errors arrive on callbacks from a source goroutine
//   - no fix is cached across subscriptions; MaxFixAge > 0 additionally
//     drops fixes whose timestamp is older than that
//   - AcquisitionTimeout reports a Timeout error for every window that
//     passes without a fix, and keeps watching
//   - Cancel is idempotent and no callback runs after it returns
//
// Sources:
//   - GPSD: JSON reports from a gpsd daemon
//   - NMEA: a USB serial receiver emitting RMC/GGA
//   - Sim: a deterministic walk around a center point
//   - Replay: a recorded fix log
package position
