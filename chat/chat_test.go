package chat

import "testing"

func TestDisabledWithoutCredentials(t *testing.T) {
	cases := []struct {
		name     string
		username string
		oauth    string
		want     bool
	}{
		{"both empty", "", "", false},
		{"no token", "bot", "", false},
		{"no username", "", "oauth:abc", false},
		{"both set", "bot", "oauth:abc", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := NewAnnouncer(tc.username, tc.oauth)
			if got := a.Enabled(); got != tc.want {
				t.Errorf("Enabled() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSayNoopWhenDisabled(t *testing.T) {
	a := NewAnnouncer("", "")
	// must not panic or attempt a connection
	a.Say("somechannel", "hello")
	if a.client != nil {
		t.Error("disabled announcer created an IRC client")
	}
	a.Close()
}
