package mp

import "testing"

func TestValidateCommandEnvelopeMutationBody(t *testing.T) {
	cmd, err := NewCommand("nav.navigate", NavigateBody{PlaylistID: "p1"})
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	cmd.ID = "id"
	cmd.TS = 1
	cmd.From = "tester"
	if err := ValidateCommandEnvelope(cmd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cmd.Body = []byte("{")
	if err := ValidateCommandEnvelope(cmd); err == nil {
		t.Fatalf("expected body error")
	}
}

func TestValidateCommandEnvelopeMissingFields(t *testing.T) {
	cmd := CommandEnvelope{}
	if err := ValidateCommandEnvelope(cmd); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTopics(t *testing.T) {
	if got := TopicNavigation(BaseTopic, "surface"); got != "mp/v1/node/surface/nav" {
		t.Fatalf("nav topic: %s", got)
	}
	if got := TopicReady(BaseTopic, "surface"); got != "mp/v1/node/surface/ready" {
		t.Fatalf("ready topic: %s", got)
	}
	if got := TopicReply(BaseTopic, "c1"); got != "mp/v1/reply/c1" {
		t.Fatalf("reply topic: %s", got)
	}
}
