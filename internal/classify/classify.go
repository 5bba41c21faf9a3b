// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package classify maps observed hostnames to a traffic category and a
// human-readable application name. Classification is a pure substring scan
// over an ordered keyword table; the table order is part of the contract
// because the first matching entry wins.
package classify

import "strings"

// Category is one of a fixed closed set describing the purpose of a hostname.
type Category string

const (
	CategoryVideo     Category = "video"
	CategorySocial    Category = "social"
	CategoryMessaging Category = "messaging"
	CategoryGaming    Category = "gaming"
	CategorySearch    Category = "search"
	CategorySystem    Category = "system"
	CategoryGeneral   Category = "general"
)

// Categories lists every category in a stable order. general is the default
// for hostnames that match nothing.
var Categories = []Category{
	CategoryVideo,
	CategorySocial,
	CategoryMessaging,
	CategoryGaming,
	CategorySearch,
	CategorySystem,
	CategoryGeneral,
}

type keywordEntry struct {
	keyword  string
	category Category
}

// keywordTable is scanned top to bottom; earlier entries shadow later ones.
var keywordTable = []keywordEntry{
	{"youtube", CategoryVideo},
	{"googlevideo", CategoryVideo},
	{"netflix", CategoryVideo},
	{"hotstar", CategoryVideo},
	{"primevideo", CategoryVideo},
	{"voot", CategoryVideo},
	{"zee5", CategoryVideo},
	{"sonyliv", CategoryVideo},

	{"instagram", CategorySocial},
	{"facebook", CategorySocial},
	{"tiktok", CategorySocial},
	{"snapchat", CategorySocial},
	{"twitter", CategorySocial},
	{"linkedin", CategorySocial},
	{"pinterest", CategorySocial},
	{"reddit", CategorySocial},

	{"whatsapp", CategoryMessaging},
	{"telegram", CategoryMessaging},
	{"signal", CategoryMessaging},
	{"discord", CategoryMessaging},

	{"battlegrounds", CategoryGaming},
	{"pubg", CategoryGaming},
	{"bgmi", CategoryGaming},
	{"freefire", CategoryGaming},
	{"garena", CategoryGaming},
	{"callofduty", CategoryGaming},
	{"activision", CategoryGaming},
	{"minecraft", CategoryGaming},
	{"roblox", CategoryGaming},
	{"supercell", CategoryGaming},
	{"clashofclans", CategoryGaming},
	{"clashroyale", CategoryGaming},
	{"candycrush", CategoryGaming},
	{"king.com", CategoryGaming},
	{"mobilelegends", CategoryGaming},
	{"mlbb", CategoryGaming},
	{"genshin", CategoryGaming},
	{"mihoyo", CategoryGaming},
	{"valorant", CategoryGaming},
	{"riotgames", CategoryGaming},
	{"leagueoflegends", CategoryGaming},
	{"epicgames", CategoryGaming},
	{"fortnite", CategoryGaming},
	{"steam", CategoryGaming},
	{"steampowered", CategoryGaming},
	{"playgames", CategoryGaming},
	{"gameanalytics", CategoryGaming},

	{"google.", CategorySearch},
	{"bing.com", CategorySearch},
	{"duckduckgo", CategorySearch},

	{"msftconnecttest", CategorySystem},
	{"firebase", CategorySystem},
	{"xiaomi", CategorySystem},
	{"miui", CategorySystem},
	{"connectivity-check", CategorySystem},
}

type appEntry struct {
	keyword string
	app     string
}

// appTable maps hostname keywords to display names. Ordered like
// keywordTable: first match wins.
var appTable = []appEntry{
	{"youtube", "YouTube"},
	{"googlevideo", "YouTube Streaming"},
	{"ytimg", "YouTube"},
	{"instagram", "Instagram"},
	{"facebook", "Facebook"},
	{"whatsapp", "WhatsApp"},
	{"netflix", "Netflix"},
	{"google.", "Google Search"},
	{"bing.com", "Bing Search"},
	{"duckduckgo", "DuckDuckGo"},
	{"play.googleapis.com", "Google Play Store"},
}

// Classify returns the category and app name for a hostname. It is pure,
// re-entrant, and deterministic: the same input always yields the same output.
func Classify(hostname string) (Category, string) {
	h := strings.ToLower(hostname)
	return category(h), appName(h)
}

func category(h string) Category {
	for _, e := range keywordTable {
		if strings.Contains(h, e.keyword) {
			return e.category
		}
	}
	return CategoryGeneral
}

func appName(h string) string {
	for _, e := range appTable {
		if strings.Contains(h, e.keyword) {
			return e.app
		}
	}
	return "Unknown"
}

// IsEntertainment reports whether a category counts toward the
// entertainment ratio.
func IsEntertainment(c Category) bool {
	return c == CategoryVideo || c == CategorySocial || c == CategoryGaming
}

// Valid reports whether c is one of the closed category set.
func Valid(c Category) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}
