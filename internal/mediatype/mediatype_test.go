package mediatype

import "testing"

func TestForKey(t *testing.T) {
	cases := map[string]string{
		"music/track.mp3":       "audio/mpeg",
		"music/track.MP3":       "audio/mpeg",
		"music/track_high.m4a":  "audio/mp4",
		"hls/master.m3u8":       "application/vnd.apple.mpegurl",
		"segments/seg_001.ts":   "video/mp2t",
		"music/track.unknownex": "",
		"noextension":           "",
	}
	for key, want := range cases {
		if got := ForKey(key); got != want {
			t.Errorf("ForKey(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestResolve(t *testing.T) {
	if got := Resolve("audio/flac", "x.mp3"); got != "audio/flac" {
		t.Errorf("upstream type should win, got %q", got)
	}
	if got := Resolve("application/octet-stream", "x.mp3"); got != "audio/mpeg" {
		t.Errorf("octet-stream should fall back to extension, got %q", got)
	}
	if got := Resolve("", "x.wav"); got != "audio/wav" {
		t.Errorf("empty upstream should fall back to extension, got %q", got)
	}
	if got := Resolve("", "x.zzz"); got != "application/octet-stream" {
		t.Errorf("unknown extension should fall back to octet-stream, got %q", got)
	}
}
