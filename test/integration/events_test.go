package integration

import (
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/majordomo/pkg/events"
)

// postSlack sends a signed event envelope to /slack_redirector.
func postSlack(t *testing.T, body string) *http.Response {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req, err := http.NewRequest(http.MethodPost, testEnv.BaseURL()+"/slack_redirector", strings.NewReader(body))
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(events.HeaderTimestamp, ts)
	req.Header.Set(events.HeaderSignature, events.Sign(slackSecret, ts, []byte(body)))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /slack_redirector: %v", err)
	}
	return resp
}

func TestSlackURLVerification(t *testing.T) {
	resp := postSlack(t, `{"type":"url_verification","challenge":"abc123"}`)
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, `"challenge":"abc123"`) {
		t.Errorf("body = %q, want challenge echo", body)
	}
}

func TestSlackUnsignedRejected(t *testing.T) {
	resp := postJSON(t, testEnv.BaseURL()+"/slack_redirector", map[string]string{"type": "url_verification", "challenge": "x"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
	if res := decodeResult(t, resp); res.Status {
		t.Error("status = true, want false")
	}
}

func TestSlackEventRoutesToChannelHandler(t *testing.T) {
	upsert(t, "slack-ops", aliceKey, `
def handle(p):
    send_chat_message("C100", "pong: " + p)
`)

	resp := postSlack(t, `{"type":"event_callback","event_id":"Ev1","event":{"type":"message","channel":"C100","user":"U1","text":"!ping  all good"}}`)
	if res := decodeResult(t, resp); !res.Status {
		t.Fatalf("ack = %+v", res)
	}

	waitFor(t, "pong in C100", func() bool {
		for _, p := range testEnv.Slack.PostsTo("C100") {
			if p.Text == "pong:  all good" {
				return true
			}
		}
		return false
	})
}

func TestSlackBotMessagesIgnored(t *testing.T) {
	upsert(t, "slack-quiet", aliceKey, `
def handle(p):
    send_chat_message("C200", "echo " + p)
`)

	postSlack(t, `{"type":"event_callback","event":{"type":"message","channel":"C200","bot_id":"B1","text":"!x loop"}}`).Body.Close()
	postSlack(t, `{"type":"event_callback","event":{"type":"message","subtype":"bot_message","channel":"C200","text":"!x loop"}}`).Body.Close()

	// A human message after the bot messages proves the routing ran.
	postSlack(t, `{"type":"event_callback","event":{"type":"message","channel":"C200","user":"U1","text":"!x human"}}`).Body.Close()
	waitFor(t, "human echo", func() bool { return len(testEnv.Slack.PostsTo("C200")) > 0 })

	for _, p := range testEnv.Slack.PostsTo("C200") {
		if p.Text != "echo human" {
			t.Errorf("unexpected post %q, bot message was routed", p.Text)
		}
	}
}

func TestSlackUnknownChannelDropped(t *testing.T) {
	before := len(testEnv.Slack.Posts())
	resp := postSlack(t, `{"type":"event_callback","event":{"type":"message","channel":"C999","text":"!x y"}}`)
	if res := decodeResult(t, resp); !res.Status {
		t.Errorf("ack = %+v, want success even for unknown channels", res)
	}
	time.Sleep(50 * time.Millisecond)
	if after := len(testEnv.Slack.Posts()); after != before {
		t.Errorf("posts changed from %d to %d for an unresolvable channel", before, after)
	}
}
