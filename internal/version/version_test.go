package version

import "testing"

func TestUserAgent(t *testing.T) {
	if got := UserAgent(); got != "rtdbridge/"+Version {
		t.Errorf("UserAgent() = %q", got)
	}
	if got := String(); got != Version+" ("+Commit+") built "+BuildTime {
		t.Errorf("String() = %q", got)
	}
}
