package integration

import (
	"strings"
	"testing"
)

func TestSendChatMessage(t *testing.T) {
	upsert(t, "announce", aliceKey, `
def handle(p):
    ok = send_chat_message("C-announce", "deploy: " + p)
    return "sent" if ok else "failed"
`)

	res := invoke(t, "announce", "v1.2.3")
	if res.DataString() != "sent" {
		t.Fatalf("invoke = %+v (%q), want sent", res, res.DataString())
	}

	posts := testEnv.Slack.PostsTo("C-announce")
	if len(posts) != 1 || posts[0].Text != "deploy: v1.2.3" {
		t.Errorf("posts = %+v", posts)
	}
}

func TestCreateTicket(t *testing.T) {
	upsert(t, "bug-report", aliceKey, `
def handle(p):
    t = create_ticket("acme/widgets", "Bug: " + p, "filed from a webhook")
    if t == None:
        return "no ticket"
    return t.url
`)

	res := invoke(t, "bug-report", "login broken")
	if !strings.HasPrefix(res.DataString(), "https://github.example/acme/widgets/issues/") {
		t.Fatalf("invoke = %q, want issue URL", res.DataString())
	}

	var found bool
	for _, is := range testEnv.GitHub.Issues() {
		if is.Repo == "acme/widgets" && is.Title == "Bug: login broken" && is.Body == "filed from a webhook" {
			found = true
		}
	}
	if !found {
		t.Errorf("issue not created: %+v", testEnv.GitHub.Issues())
	}
}

func TestCreateTicketInvalidRepo(t *testing.T) {
	upsert(t, "bad-repo", aliceKey, `
def handle(p):
    t = create_ticket("not-a-repo", "title")
    return "none" if t == None else "ticket"
`)

	if res := invoke(t, "bad-repo", ""); res.DataString() != "none" {
		t.Errorf("invoke = %q, want none", res.DataString())
	}
}

func TestLogCapability(t *testing.T) {
	upsert(t, "chatty", aliceKey, `
def handle(p):
    log("received " + p)
    print("also printed")
    return "logged"
`)

	if res := invoke(t, "chatty", "x"); !res.Status || res.DataString() != "logged" {
		t.Errorf("invoke = %+v (%q)", res, res.DataString())
	}
}
