// Package protocol defines the JSON envelopes exchanged over the lightshow
// websocket: inbound requests, acknowledgements and server pushes.
//
// Every frame carries exactly one JSON object. A request may carry an
// integer "ack" id; the server answers such requests with an "ack" frame
// holding either data or an error. Requests without an ack id that fail are
// answered with an "error" push naming the event that failed.
//
//	-> {"event":"createSession","ack":1,"sessionName":"Choir A"}
//	<- {"event":"ack","ack":1,"data":{"sessionId":"...","state":{"screenColor":"black"}}}
//	<- {"event":"sessionListUpdated","sessions":[{"sessionId":"...","sessionName":"Choir A"}]}
package protocol
