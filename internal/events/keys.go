package events

// Keys holds the dedupe keys derivable from one delivery. Empty slots are unused.
// Each populated key must independently clear admission.
type Keys [3]string

// Each calls fn for every populated key.
func (k Keys) Each(fn func(string)) {
	for _, s := range k {
		if s != "" {
			fn(s)
		}
	}
}

// Len returns the number of populated keys.
func (k Keys) Len() int {
	n := 0
	k.Each(func(string) { n++ })
	return n
}

func messageKeys(m Meta) Keys {
	var k Keys
	if m.ClientMsgID != "" {
		k[0] = "client:" + m.ClientMsgID
	}
	if m.UserID != "" && m.TS != "" {
		k[1] = "user:" + m.UserID + ":" + m.TS
	}
	if m.ChannelID != "" && m.TS != "" {
		k[2] = "channel:" + m.ChannelID + ":" + m.TS
	}
	return k
}

// A reaction's channel+ts identifies the reacted-to message, not the reaction,
// so only a user-scoped key is derived.
func reactionKeys(m Meta, op, itemTS string) Keys {
	var k Keys
	if m.UserID != "" {
		k[1] = "reaction:" + m.UserID + ":" + itemTS + ":" + op + ":" + m.TS
	}
	return k
}
