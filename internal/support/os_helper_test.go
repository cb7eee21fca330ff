package support

import "testing"

func TestGetEnv(t *testing.T) {
	t.Setenv("DEEPAGG_TEST_ENV", "value")
	if got := GetEnv("DEEPAGG_TEST_ENV", "fallback"); got != "value" {
		t.Fatalf("GetEnv returned %s, want value", got)
	}

	if got := GetEnv("DEEPAGG_TEST_ENV_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("GetEnv returned %s, want fallback", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("DEEPAGG_TEST_BOOL", "true")
	if got := GetEnvBool("DEEPAGG_TEST_BOOL", false); got != true {
		t.Fatalf("GetEnvBool returned %t, want true", got)
	}

	t.Setenv("DEEPAGG_TEST_BOOL", "false")
	if got := GetEnvBool("DEEPAGG_TEST_BOOL", true); got != false {
		t.Fatalf("GetEnvBool returned %t, want false", got)
	}

	if got := GetEnvBool("DEEPAGG_TEST_BOOL_MISSING", true); got != true {
		t.Fatalf("GetEnvBool returned %t, want true fallback", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("DEEPAGG_TEST_INT", "42")
	if got := GetEnvInt("DEEPAGG_TEST_INT", 1); got != 42 {
		t.Fatalf("GetEnvInt returned %d, want 42", got)
	}

	t.Setenv("DEEPAGG_TEST_INT", "not-a-number")
	if got := GetEnvInt("DEEPAGG_TEST_INT", 7); got != 7 {
		t.Fatalf("GetEnvInt returned %d, want fallback 7", got)
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("DEEPAGG_TEST_LIST", " a, ,b ,c")
	got := GetEnvList("DEEPAGG_TEST_LIST", nil)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("GetEnvList length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("GetEnvList[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if got := GetEnvList("DEEPAGG_TEST_LIST_MISSING", []string{"x"}); len(got) != 1 || got[0] != "x" {
		t.Fatalf("GetEnvList fallback = %v, want [x]", got)
	}
}

func TestHashStringDeterministic(t *testing.T) {
	if got1, got2 := HashString("input"), HashString("input"); got1 != got2 {
		t.Fatal("HashString returned different values for the same input")
	}

	if HashString("input") == HashString("different") {
		t.Fatal("HashString returned same value for different inputs")
	}
}
