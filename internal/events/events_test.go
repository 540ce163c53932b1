package events

import "testing"

func TestMessageKeys_AllSlots(t *testing.T) {
	ev := Mention{M: Meta{ClientMsgID: "c1", UserID: "U1", ChannelID: "C1", TS: "100.1"}}
	k := ev.Keys()
	want := Keys{"client:c1", "user:U1:100.1", "channel:C1:100.1"}
	if k != want {
		t.Fatalf("keys = %#v, want %#v", k, want)
	}
	if k.Len() != 3 {
		t.Fatalf("Len = %d", k.Len())
	}
}

func TestMessageKeys_NoClientID(t *testing.T) {
	k := DirectMessage{M: Meta{UserID: "U1", ChannelID: "D1", TS: "1.0"}}.Keys()
	if k[0] != "" || k.Len() != 2 {
		t.Fatalf("unexpected keys %#v", k)
	}
	var seen []string
	k.Each(func(s string) { seen = append(seen, s) })
	if len(seen) != 2 || seen[0] != "user:U1:1.0" || seen[1] != "channel:D1:1.0" {
		t.Fatalf("Each order: %v", seen)
	}
}

func TestReactionKeys_DistinguishDirectionAndEmoji(t *testing.T) {
	m := Meta{UserID: "U1", ChannelID: "C1", TS: "5.0"}
	add := ReactionAdded{M: m, Reaction: "+1", ItemTS: "4.0"}.Keys()
	rem := ReactionRemoved{M: m, Reaction: "+1", ItemTS: "4.0"}.Keys()
	other := ReactionAdded{M: m, Reaction: "heart", ItemTS: "4.0"}.Keys()
	if add.Len() != 1 {
		t.Fatalf("reaction should derive a single key, got %#v", add)
	}
	if add == rem || add == other {
		t.Fatalf("reaction keys must differ: %v %v %v", add, rem, other)
	}
}

func TestLanes(t *testing.T) {
	if (Mention{}).Lane() != LaneMessage || (DirectMessage{}).Lane() != LaneMessage {
		t.Fatalf("message variants should use the message lane")
	}
	if (ReactionAdded{}).Lane() != LaneReaction || (ReactionRemoved{}).Lane() != LaneReaction {
		t.Fatalf("reaction variants should use the reaction lane")
	}
}

func TestContinuityThread(t *testing.T) {
	cases := []struct {
		m    Meta
		want string
	}{
		{Meta{TS: "1.0"}, ""},
		{Meta{TS: "1.0", ThreadTS: "1.0"}, ""},
		{Meta{TS: "2.0", ThreadTS: "1.0"}, "1.0"},
	}
	for _, c := range cases {
		if got := ContinuityThread(c.m); got != c.want {
			t.Fatalf("ContinuityThread(%+v) = %q, want %q", c.m, got, c.want)
		}
	}
}

func TestReplyThread(t *testing.T) {
	if got := ReplyThread(Mention{M: Meta{TS: "1.0"}}); got != "1.0" {
		t.Fatalf("mention reply thread = %q", got)
	}
	if got := ReplyThread(DirectMessage{M: Meta{TS: "1.0"}}); got != "" {
		t.Fatalf("dm reply thread = %q", got)
	}
	if got := ReplyThread(DirectMessage{M: Meta{TS: "2.0", ThreadTS: "1.0"}}); got != "1.0" {
		t.Fatalf("threaded dm reply thread = %q", got)
	}
}

func TestMetaValidate(t *testing.T) {
	if err := (Meta{ChannelID: "C", TS: "1"}).Validate(); err != ErrMissingUser {
		t.Fatalf("want ErrMissingUser, got %v", err)
	}
	if err := (Meta{UserID: "U", TS: "1"}).Validate(); err != ErrMissingChannel {
		t.Fatalf("want ErrMissingChannel, got %v", err)
	}
	if err := (Meta{UserID: "U", ChannelID: "C"}).Validate(); err != ErrMissingTS {
		t.Fatalf("want ErrMissingTS, got %v", err)
	}
	if err := (Meta{UserID: "U", ChannelID: "C", TS: "1"}).Validate(); err != nil {
		t.Fatalf("unexpected %v", err)
	}
}

func TestMessageAccessor(t *testing.T) {
	if text, files, ok := Message(Mention{Text: "hi", HasFiles: true}); !ok || text != "hi" || !files {
		t.Fatalf("Message(mention) = %q %v %v", text, files, ok)
	}
	if _, _, ok := Message(ReactionAdded{}); ok {
		t.Fatalf("reaction is not a message")
	}
}
