package inputclassify

import "testing"

func TestClassify(t *testing.T) {
	c := New(DefaultOptions())

	cases := []struct {
		name  string
		input string
		want  InputType
	}{
		{"empty", "", Empty},
		{"whitespace only", "   ", Empty},
		{"forced shell", "!ls -la", ShellCommand},
		{"forced agent", "ai list all python files", AgentGoal},
		{"forced meta", ":help", MetaCommand},
		{"heuristic shell", "ls -la", ShellCommand},
		{"heuristic shell with pipe", "ps aux | grep agentsh", ShellCommand},
		{"heuristic natural language question", "what files were modified today?", AgentGoal},
		{"heuristic natural language request", "please find all the log files", AgentGoal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Classify(tc.input)
			if got.Type != tc.want {
				t.Fatalf("Classify(%q) = %s (reason %q), want %s", tc.input, got.Type, got.Reason, tc.want)
			}
		})
	}
}

func TestClassifyStripsForcePrefix(t *testing.T) {
	c := New(DefaultOptions())

	got := c.Classify("!  ls -la  ")
	if got.Content != "ls -la" {
		t.Fatalf("expected prefix and surrounding whitespace stripped, got %q", got.Content)
	}

	got = c.Classify(":reset session")
	if got.Content != "reset session" {
		t.Fatalf("expected meta prefix stripped, got %q", got.Content)
	}
}

func TestClassifyShellPrefixBeatsMetaPrefix(t *testing.T) {
	c := New(DefaultOptions())
	got := c.Classify("!:weird")
	if got.Type != ShellCommand {
		t.Fatalf("expected shell prefix to win over meta prefix, got %s", got.Type)
	}
	if got.Content != ":weird" {
		t.Fatalf("expected only the shell prefix stripped, got %q", got.Content)
	}
}

func TestClassifyAmbiguousDefaultsToShell(t *testing.T) {
	c := New(DefaultOptions())
	got := c.Classify("foo")
	if got.Type != ShellCommand {
		t.Fatalf("expected ambiguous input to default to shell, got %s", got.Type)
	}
	if got.Confidence != 0.5 {
		t.Fatalf("expected 0.5 confidence for ambiguous input, got %v", got.Confidence)
	}
}

func TestClassifyAmbiguousDefaultsToAgentWhenConfigured(t *testing.T) {
	opts := DefaultOptions()
	opts.DefaultAgent = true
	c := New(opts)

	got := c.Classify("foo")
	if got.Type != AgentGoal {
		t.Fatalf("expected ambiguous input to default to agent goal, got %s", got.Type)
	}
}

func TestClassifyCustomPrefixes(t *testing.T) {
	c := New(Options{ShellPrefix: "$", AgentPrefix: "@", MetaPrefix: "#"})

	if got := c.Classify("$ls -la"); got.Type != ShellCommand {
		t.Fatalf("expected custom shell prefix to force ShellCommand, got %s", got.Type)
	}
	if got := c.Classify("@help me out"); got.Type != AgentGoal {
		t.Fatalf("expected custom agent prefix to force AgentGoal, got %s", got.Type)
	}
	if got := c.Classify("#status"); got.Type != MetaCommand {
		t.Fatalf("expected custom meta prefix to force MetaCommand, got %s", got.Type)
	}
}

func TestInputTypeString(t *testing.T) {
	cases := map[InputType]string{
		Empty:        "EMPTY",
		ShellCommand: "SHELL_COMMAND",
		AgentGoal:    "AGENT_GOAL",
		MetaCommand:  "META_COMMAND",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Fatalf("String() = %q, want %q", got, want)
		}
	}
}
