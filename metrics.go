// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package volley

import "expvar"

// sessionMetrics record session activity counters.
type sessionMetrics struct {
	packetRecv        expvar.Int
	packetSent        expvar.Int
	packetDropped     expvar.Int // written while no transport was attached
	messagesSent      expvar.Int // sequenced messages written for the first time
	messagesResent    expvar.Int
	batchesSent       expvar.Int
	messagesDropped   expvar.Int // inbound messages that could not be decoded
	duplicatesDropped expvar.Int
	callIn            expvar.Int // number of inbound requests received
	callOut           expvar.Int // number of outbound calls initiated
	callOutErr        expvar.Int // number of outbound calls reporting an error
	callPending       expvar.Int // outbound
	callTimedOut      expvar.Int
	callCanceled      expvar.Int
	responsesDropped  expvar.Int // responses for unknown request IDs
	sessionsActive    expvar.Int

	emap *expvar.Map
}

var rootMetrics = newSessionMetrics()

func newSessionMetrics() *sessionMetrics {
	sm := &sessionMetrics{emap: new(expvar.Map)}
	sm.emap.Set("packets_received", &sm.packetRecv)
	sm.emap.Set("packets_sent", &sm.packetSent)
	sm.emap.Set("packets_dropped", &sm.packetDropped)
	sm.emap.Set("messages_sent", &sm.messagesSent)
	sm.emap.Set("messages_resent", &sm.messagesResent)
	sm.emap.Set("batches_sent", &sm.batchesSent)
	sm.emap.Set("messages_dropped", &sm.messagesDropped)
	sm.emap.Set("duplicates_dropped", &sm.duplicatesDropped)
	sm.emap.Set("calls_in", &sm.callIn)
	sm.emap.Set("calls_out", &sm.callOut)
	sm.emap.Set("calls_out_failed", &sm.callOutErr)
	sm.emap.Set("calls_pending", &sm.callPending)
	sm.emap.Set("calls_timed_out", &sm.callTimedOut)
	sm.emap.Set("calls_canceled", &sm.callCanceled)
	sm.emap.Set("responses_dropped", &sm.responsesDropped)
	sm.emap.Set("sessions_active", &sm.sessionsActive)
	return sm
}

// Metrics returns the map of activity counters shared by all sessions in the
// process. Unlike [Session.Metrics] it does not need a session, so a server
// can publish the map with expvar.Publish before accepting its first peer.
func Metrics() *expvar.Map { return rootMetrics.emap }
