package context

import (
	"math/rand"
	"strings"
	"testing"

	"toolchat/internal/domain"
)

func msg(role domain.MessageRole, content string) domain.ChatMessage {
	return domain.ChatMessage{Role: role, Content: content}
}

// =============================================================================
// Token accounting
// =============================================================================

func TestEstimateTokens_WhenText_ShouldCeilDivideByFour(t *testing.T) {
	if got := EstimateTokens("abcdefghi"); got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestMessageTokens_ShouldAddFixedOverhead(t *testing.T) {
	if got := MessageTokens(msg(domain.RoleUser, "abcd")); got != 1+MessageOverhead {
		t.Errorf("expected %d, got %d", 1+MessageOverhead, got)
	}
	if got := MessageTokens(msg(domain.RoleUser, "")); got != MessageOverhead {
		t.Errorf("empty message should cost only the overhead, got %d", got)
	}
}

func TestFitsInBudget_WhenExactlyAtBudget_ShouldReturnTrue(t *testing.T) {
	msgs := []domain.ChatMessage{msg(domain.RoleUser, "abcd"), msg(domain.RoleAssistant, "abcd")} // 5 + 5
	if !FitsInBudget(msgs, 20, 10) {
		t.Error("10 tokens should fit a budget of 10")
	}
	if FitsInBudget(msgs, 19, 10) {
		t.Error("10 tokens should not fit a budget of 9")
	}
}

func TestModelLimit_WhenKnownModel_ShouldUseTable(t *testing.T) {
	if got := ModelLimit("gpt-4", 0); got != 8192 {
		t.Errorf("gpt-4: expected 8192, got %d", got)
	}
	if got := ModelLimit("some-local-model", 4096); got != 4096 {
		t.Errorf("unknown with fallback: expected 4096, got %d", got)
	}
	if got := ModelLimit("some-local-model", 0); got != DefaultModelLimit {
		t.Errorf("unknown without fallback: expected %d, got %d", DefaultModelLimit, got)
	}
}

// =============================================================================
// Truncate
// =============================================================================

func TestTruncate_WhenOverBudget_ShouldKeepSystemAndNewest(t *testing.T) {
	// Costs: 5, 14, 5, 5.
	msgs := []domain.ChatMessage{
		msg(domain.RoleSystem, "sys!"),
		msg(domain.RoleUser, strings.Repeat("a", 40)),
		msg(domain.RoleAssistant, "abcd"),
		msg(domain.RoleUser, "abcd"),
	}
	got := Truncate(msgs, 20, 5) // budget 15
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d: %+v", len(got), got)
	}
	if got[0].Role != domain.RoleSystem {
		t.Errorf("system message must stay first, got %q", got[0].Role)
	}
	if got[1].Role != domain.RoleAssistant || got[2].Role != domain.RoleUser {
		t.Errorf("expected assistant then user, got %+v", got[1:])
	}
}

func TestTruncate_WhenOlderMessageWouldFit_ShouldStopAtFirstOverflow(t *testing.T) {
	// The oldest message would fit on its own but sits behind an overflow.
	msgs := []domain.ChatMessage{
		msg(domain.RoleUser, "ab"),
		msg(domain.RoleAssistant, strings.Repeat("x", 40)),
		msg(domain.RoleUser, "abcd"),
	}
	got := Truncate(msgs, 12, 0)
	if len(got) != 1 || got[0].Content != "abcd" {
		t.Errorf("expected only the newest message, got %+v", got)
	}
}

func TestTruncate_WhenNoSystemMessage_ShouldTreatAllAsConversation(t *testing.T) {
	msgs := []domain.ChatMessage{msg(domain.RoleUser, "abcd"), msg(domain.RoleUser, "efgh")}
	got := Truncate(msgs, 5, 0)
	if len(got) != 1 || got[0].Content != "efgh" {
		t.Errorf("expected newest only, got %+v", got)
	}
}

func TestTruncate_WhenEmpty_ShouldReturnEmpty(t *testing.T) {
	if got := Truncate(nil, 100, 0); len(got) != 0 {
		t.Errorf("expected empty, got %d", len(got))
	}
}

func TestTruncate_Property_WhenOverBudget_ShouldHoldInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	roles := []domain.MessageRole{domain.RoleUser, domain.RoleAssistant}
	for iter := 0; iter < 500; iter++ {
		n := 1 + rng.Intn(12)
		var msgs []domain.ChatMessage
		hasSystem := rng.Intn(2) == 0
		if hasSystem {
			msgs = append(msgs, msg(domain.RoleSystem, strings.Repeat("s", rng.Intn(20))))
		}
		for i := 0; i < n; i++ {
			msgs = append(msgs, msg(roles[i%2], strings.Repeat("m", rng.Intn(60))))
		}
		limit := 10 + rng.Intn(80)
		reserved := rng.Intn(10)
		if FitsInBudget(msgs, limit, reserved) {
			continue
		}
		got := Truncate(msgs, limit, reserved)

		// (a) system first
		if hasSystem && (len(got) == 0 || got[0] != msgs[0]) {
			t.Fatalf("iter %d: system message not kept first", iter)
		}
		// (b) kept messages are a subsequence in original order
		j := 0
		for _, g := range got {
			for j < len(msgs) && msgs[j] != g {
				j++
			}
			if j == len(msgs) {
				t.Fatalf("iter %d: result is not an ordered subsequence", iter)
			}
			j++
		}
		// (c) fits unless the system message alone is over budget
		sysOver := hasSystem && MessageTokens(msgs[0]) > limit-reserved
		if !sysOver && !FitsInBudget(got, limit, reserved) {
			t.Fatalf("iter %d: truncated list does not fit budget", iter)
		}
		// (d) newest is kept when it fits next to the system message
		newest := msgs[len(msgs)-1]
		cost := MessageTokens(newest)
		if hasSystem {
			cost += MessageTokens(msgs[0])
		}
		if cost <= limit-reserved && got[len(got)-1] != newest {
			t.Fatalf("iter %d: newest message dropped although it fits", iter)
		}
	}
}

// =============================================================================
// RecentWindow
// =============================================================================

func TestRecentWindow_WhenLonger_ShouldReturnSuffix(t *testing.T) {
	got := RecentWindow([]int{1, 2, 3, 4, 5}, 3)
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Errorf("expected [3 4 5], got %v", got)
	}
}

func TestRecentWindow_WhenShorter_ShouldReturnAll(t *testing.T) {
	if got := RecentWindow([]string{"a"}, 5); len(got) != 1 {
		t.Errorf("expected 1, got %d", len(got))
	}
}

func TestRecentWindow_WhenNonPositive_ShouldReturnEmpty(t *testing.T) {
	if got := RecentWindow([]int{1, 2}, 0); len(got) != 0 {
		t.Errorf("expected empty, got %v", got)
	}
}
