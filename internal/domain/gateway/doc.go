/*
Package gateway composes the process supervisor, the session registry and
the stream hub behind one set of authorization rules.

# Access

An instance room may be watched and driven by the instance owner and by
participants of a session the instance is bound to. The live desktop is open
to every authenticated user. Input access is checked again for each event.
Leaving a session, unbinding an instance, and closing or expiring a session
unsubscribe the channels of users who lost access.

# Policies

	Start application  -> no session binding
	Join session       -> no stream subscription
	Disconnect channel -> stream unsubscribe only, membership kept
	Close session      -> bound instances keep running
	Instance exits     -> bindings released, room closed, input sink dropped
	Lose access        -> channels leave the instance room

# Events

HandleEvent is subscribed to the event dispatcher. Instance events reach the
instance room and every channel of the owner; session events reach every
current or former participant named in the event audience. The dispatcher
may drop events under load, so teardown of exited instances runs from the
supervisor's exit hook instead.
*/
package gateway
