package checksum

import "testing"

func TestGitObject_MatchesGit(t *testing.T) {
	cases := map[string]string{
		"":        "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391",
		"hello\n": "ce013625030ba8dba906f756967f9e9ca394464a",
	}
	for in, want := range cases {
		if got := GitObject("blob", []byte(in)); got != want {
			t.Errorf("GitObject(blob, %q) = %s, want %s", in, got, want)
		}
	}
}

func TestSum(t *testing.T) {
	const want = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Sum(nil); got != want {
		t.Errorf("Sum(nil) = %s", got)
	}
}
