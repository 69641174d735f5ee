package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify_Debug(t *testing.T) {
	msgs := []string{
		"TypeError: x is undefined",
		"I get a NullPointerException when I click save",
		"panic: runtime error: index out of range",
		"my build fails at app.ts:42:7",
		"Traceback (most recent call last): KeyError 'id'",
		"it says cannot read properties of undefined",
	}
	for _, m := range msgs {
		require.Truef(t, Classify(m).Debug, "expected debug for %q", m)
	}
}

func TestClassify_Architecture(t *testing.T) {
	msgs := []string{
		"what folder structure should a Next.js app use?",
		"should we go with microservices or a monolith",
		"REST vs GraphQL for a hackathon?",
		"help me pick a DB",
		"Is a monorepo worth it",
		"Is this design scalable enough for launch?",
		"how do we scale the backend past one box",
	}
	for _, m := range msgs {
		require.Truef(t, Classify(m).Architecture, "expected architecture for %q", m)
	}
}

func TestClassify_Crunch(t *testing.T) {
	msgs := []string{
		"we are running out of time",
		"deadline is tonight",
		"I have 30 minutes left",
		"need this ASAP",
		"only 2 hours to demo, give me a quick fix",
		"need it fast",
	}
	for _, m := range msgs {
		require.Truef(t, Classify(m).Crunch, "expected crunch for %q", m)
	}
}

func TestClassify_NoSignals(t *testing.T) {
	for _, m := range []string{"hi", "", "Explain how binary search works", "what is recursion?"} {
		require.Equalf(t, Flags{}, Classify(m), "expected no flags for %q", m)
	}
}

func TestClassify_OrdinaryQuestionsStayQuiet(t *testing.T) {
	for _, m := range []string{
		"can you explain quick sort?",
		"my script takes 5 minutes to run, why?",
		"how does feature scaling work in ML",
		"what's a fast way to reverse a list",
		"convert 90 minutes to hours",
	} {
		require.Equalf(t, Flags{}, Classify(m), "expected no flags for %q", m)
	}
}

func TestClassify_NeverSetsCode(t *testing.T) {
	require.False(t, Classify("please give me the full code, code mode on").Code)
}

func TestClassify_FlagsAreIndependent(t *testing.T) {
	f := Classify("running out of time, help me pick a DB")
	require.Equal(t, Flags{Crunch: true, Architecture: true}, f)

	f = Classify("deadline in 2 hours and I get TypeError in my microservice")
	require.True(t, f.Debug)
	require.True(t, f.Architecture)
	require.True(t, f.Crunch)
}

func allFlagCombinations() []Flags {
	var out []Flags
	for i := 0; i < 16; i++ {
		out = append(out, Flags{
			Code:         i&1 != 0,
			Debug:        i&2 != 0,
			Architecture: i&4 != 0,
			Crunch:       i&8 != 0,
		})
	}
	return out
}

func TestAssemble_Deterministic(t *testing.T) {
	for _, f := range allFlagCombinations() {
		require.Equal(t, Assemble(f), Assemble(f), "flags %+v", f)
	}
}

func TestAssemble_Persona(t *testing.T) {
	restricted := Assemble(Flags{})
	require.Contains(t, restricted, "You must NOT write code")
	require.NotContains(t, restricted, "Code mode is unlocked")

	unrestricted := Assemble(Flags{Code: true})
	require.Contains(t, unrestricted, "Code mode is unlocked")
	require.NotContains(t, unrestricted, "You must NOT write code")
}

func TestAssemble_AddendaOrder(t *testing.T) {
	out := Assemble(Flags{Debug: true, Architecture: true, Crunch: true})
	debug := strings.Index(out, "DEBUGGING CONTEXT")
	arch := strings.Index(out, "ARCHITECTURE CONTEXT")
	crunch := strings.Index(out, "TIME PRESSURE")
	persona := strings.Index(out, "You are HackGPT")

	require.Equal(t, 0, persona)
	require.True(t, persona < debug && debug < arch && arch < crunch, "order: %d %d %d %d", persona, debug, arch, crunch)
}

func TestAssemble_CrunchAndArchitecture(t *testing.T) {
	out := Assemble(Classify("running out of time, help me pick a DB"))
	require.NotContains(t, out, "DEBUGGING CONTEXT")
	arch := strings.Index(out, "ARCHITECTURE CONTEXT")
	crunch := strings.Index(out, "TIME PRESSURE")
	require.True(t, arch > 0 && crunch > arch)
}

func TestAssemble_DebugFixDependsOnPersona(t *testing.T) {
	restricted := Assemble(Flags{Debug: true})
	require.Contains(t, restricted, "Do NOT give the literal fix")
	require.NotContains(t, restricted, "You MAY output the corrected code")

	unrestricted := Assemble(Flags{Debug: true, Code: true})
	require.Contains(t, unrestricted, "You MAY output the corrected code")
	require.NotContains(t, unrestricted, "Do NOT give the literal fix")
}

func TestCodeUnlocked(t *testing.T) {
	require.False(t, CodeUnlocked("anything", ""))
	require.False(t, CodeUnlocked("", "s3cret"))
	require.False(t, CodeUnlocked("wrong", "s3cret"))
	require.True(t, CodeUnlocked(" s3cret ", "s3cret"))

	f := ForMessage("TypeError: boom", true)
	require.Equal(t, Flags{Code: true, Debug: true}, f)
}
