// Package health serves the standard gRPC health service on the ops port.
//
// The overall status ("") and the "adminboard.realtime" service follow the
// realtime transport: SERVING while the socket is up, NOT_SERVING otherwise.
// "adminboard.http" is SERVING for the life of the process. All RPCs pass
// through the API key interceptors from package auth.
package health
