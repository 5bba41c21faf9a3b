// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package classify

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		hostname string
		category Category
		app      string
	}{
		{"www.youtube.com", CategoryVideo, "YouTube"},
		{"rr4---sn-gwpa-5bge.googlevideo.com", CategoryVideo, "YouTube Streaming"},
		{"NETFLIX.com", CategoryVideo, "Netflix"},
		{"i.instagram.com", CategorySocial, "Instagram"},
		{"edge-chat.facebook.com", CategorySocial, "Facebook"},
		{"mmg.whatsapp.net", CategoryMessaging, "WhatsApp"},
		{"media.discordapp.net", CategoryMessaging, "Unknown"},
		{"api.bgmi.com", CategoryGaming, "Unknown"},
		{"steamcommunity.com", CategoryGaming, "Unknown"},
		{"www.google.com", CategorySearch, "Google Search"},
		{"www.msftconnecttest.com", CategorySystem, "Unknown"},
		{"example.org", CategoryGeneral, "Unknown"},
		{"", CategoryGeneral, "Unknown"},
	}

	for _, tc := range cases {
		cat, app := Classify(tc.hostname)
		if cat != tc.category {
			t.Errorf("Classify(%q) category = %q, want %q", tc.hostname, cat, tc.category)
		}
		if app != tc.app {
			t.Errorf("Classify(%q) app = %q, want %q", tc.hostname, app, tc.app)
		}
	}
}

// Ordering is part of the contract: "googlevideo" carries "google." as a
// substring would not, but a hostname matching both a video keyword and the
// search keyword must classify by the earlier (video) entry.
func TestClassifyFirstMatchWins(t *testing.T) {
	cat, _ := Classify("youtube.google.com")
	if cat != CategoryVideo {
		t.Errorf("expected earlier video entry to win, got %q", cat)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		cat, app := Classify("cdn.snapchat.com")
		if cat != CategorySocial || app != "Unknown" {
			t.Fatalf("iteration %d: got (%q, %q)", i, cat, app)
		}
	}
}

func TestIsEntertainment(t *testing.T) {
	for _, c := range []Category{CategoryVideo, CategorySocial, CategoryGaming} {
		if !IsEntertainment(c) {
			t.Errorf("%q should be entertainment", c)
		}
	}
	for _, c := range []Category{CategoryMessaging, CategorySearch, CategorySystem, CategoryGeneral} {
		if IsEntertainment(c) {
			t.Errorf("%q should not be entertainment", c)
		}
	}
}
