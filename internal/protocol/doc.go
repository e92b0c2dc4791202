// Package protocol implements the binary wire format spoken with stream consumers.
//
// Every binary frame is one CBOR (RFC 8949) envelope:
//
//	{1: type, 2: payload}
//
// Types:
//   - 1 Subscribe   {1: topic_id, 2: [params...]}     consumer -> bridge
//   - 2 Cancel      {1: topic_id}                     consumer -> bridge
//   - 3 DataReport  {1: count, 2: [{1: topic_id, 2: value, 3: ts?}...]}  bridge -> consumer
//   - 4 Error       {1: code, 2: topic_id, 3: message?}                   bridge -> consumer
//
// Values use native CBOR kinds: text string, integer or float, and tag 0
// (RFC 3339 with nanoseconds) for datetimes, so they round-trip losslessly.
// Text frames are not part of the control protocol; they carry operator
// status lines and the liveness echo.
package protocol
