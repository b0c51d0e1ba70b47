// Package locale holds user-facing bot texts.
package locale

import (
	"fmt"
	"strings"
)

// Catalog is one language. Format verbs are documented per field.
type Catalog struct {
	Lang string

	Unreachable  string // %s source name
	FallbackNote string // prepended to a fallback delivery, ends with a newline
	Unavailable  string

	HolidaySkipOn  string
	HolidaySkipOff string
	AutoMessageOn  string
	AutoMessageOff string
	ChannelSet     string // %s channel name
	ChannelUnknown string // %s argument
	ChannelUsage   string // %s command
	StorageFailed  string // %s error
	NotOwner       string
	DirectOnly     string
	FetchFailed    string // %s error
	CommandFailed  string // %s error

	HelpCommands string
	HelpTenant   string
	HelpGlobal   string

	HelpMenu        string
	HelpHelp        string
	HelpHolidaySkip string
	HelpAutoMessage string
	HelpSetChannel  string
	HelpTest        string

	HelpChannel     string
	HelpHolidayFlag string
	HelpAutoFlag    string
	HelpMealTime    string // %s meal
	HelpRestaurants string

	On  string
	Off string
}

var ko = Catalog{
	Lang: "ko",

	Unreachable:  "%s URL주소에 접속할 수 없습니다.",
	FallbackNote: "디폴트로 설정된 채널의 정보가 옳바르지 않거나 해당 채널에 메시지를 보낼 수 있는 권한이 없습니다. \n",
	Unavailable:  "지금은 메뉴 정보가 없습니다.",

	HolidaySkipOn:  "휴일스킵모드 **켜짐**",
	HolidaySkipOff: "휴일스킵모드 **꺼짐**",
	AutoMessageOn:  "메뉴 자동문자 **켜짐**",
	AutoMessageOff: "메뉴 자동문자 **꺼짐**",
	ChannelSet:     "자동문자 받을 채널이 **%s**(으)로 지정되었습니다.",
	ChannelUnknown: "**%s** 채널을 찾을 수 없습니다.",
	ChannelUsage:   "사용법: %s <채널이름>",
	StorageFailed:  "설정을 저장하지 못했습니다. 변경사항이 적용되지 않았습니다: %s",
	NotOwner:       "이 명령어는 봇 관리자만 사용할 수 있습니다.",
	DirectOnly:     "이 명령어는 서버 채널에서만 사용할 수 있습니다.",
	FetchFailed:    "메뉴를 가져오지 못했습니다: %s",
	CommandFailed:  "명령어를 처리하지 못했습니다: %s",

	HelpCommands: "<명령어>",
	HelpTenant:   "<서버 설정값 (이 서버에만 적용)>",
	HelpGlobal:   "<봇 설정값 (모든 서버에 일괄적용)>",

	HelpMenu:        "메뉴 확인",
	HelpHelp:        "도움말",
	HelpHolidaySkip: "휴일스킵 온/오프",
	HelpAutoMessage: "자동문자 온/오프",
	HelpSetChannel:  "자동문자 받을 채널지정 (미지정 시 첫번째 채널)",
	HelpTest:        "메뉴 새로 가져오기",

	HelpChannel:     "자동문자 받을 채널",
	HelpHolidayFlag: "휴일스킵",
	HelpAutoFlag:    "자동문자",
	HelpMealTime:    "%s 알림시간",
	HelpRestaurants: "식당 URL주소",

	On:  "켜짐",
	Off: "꺼짐",
}

var en = Catalog{
	Lang: "en",

	Unreachable:  "%s: the page could not be reached.",
	FallbackNote: "The configured channel is missing or the bot cannot post there; sent here instead.\n",
	Unavailable:  "No menu is available right now.",

	HolidaySkipOn:  "Holiday skip **on**",
	HolidaySkipOff: "Holiday skip **off**",
	AutoMessageOn:  "Automatic menu messages **on**",
	AutoMessageOff: "Automatic menu messages **off**",
	ChannelSet:     "Automatic messages will go to **%s**.",
	ChannelUnknown: "Channel **%s** was not found.",
	ChannelUsage:   "Usage: %s <channel>",
	StorageFailed:  "Could not save the setting. Nothing was changed: %s",
	NotOwner:       "Only bot owners can use this command.",
	DirectOnly:     "This command only works in a server channel.",
	FetchFailed:    "Could not fetch the menu: %s",
	CommandFailed:  "The command failed: %s",

	HelpCommands: "<Commands>",
	HelpTenant:   "<Server settings (this server only)>",
	HelpGlobal:   "<Bot settings (all servers)>",

	HelpMenu:        "Show menu",
	HelpHelp:        "Help",
	HelpHolidaySkip: "Toggle holiday skip",
	HelpAutoMessage: "Toggle automatic messages",
	HelpSetChannel:  "Set the channel for automatic messages (first channel if unset)",
	HelpTest:        "Fetch the menu now",

	HelpChannel:     "Channel for automatic messages",
	HelpHolidayFlag: "Holiday skip",
	HelpAutoFlag:    "Automatic messages",
	HelpMealTime:    "%s time",
	HelpRestaurants: "Restaurant URLs",

	On:  "on",
	Off: "off",
}

// Get returns the catalog for lang, Korean when lang is empty or unknown.
func Get(lang string) Catalog {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "en", "en-us", "en_us":
		return en
	default:
		return ko
	}
}

// Known reports whether lang selects a catalog explicitly.
func Known(lang string) bool {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "", "ko", "ko-kr", "ko_kr", "en", "en-us", "en_us":
		return true
	}
	return false
}

// Placeholder returns the per-source "unreachable" line.
func (c Catalog) Placeholder(name string) string { return fmt.Sprintf(c.Unreachable, name) }

func (c Catalog) OnOff(v bool) string {
	if v {
		return c.On
	}
	return c.Off
}

func (c Catalog) HolidaySkip(on bool) string {
	if on {
		return c.HolidaySkipOn
	}
	return c.HolidaySkipOff
}

func (c Catalog) AutoMessage(on bool) string {
	if on {
		return c.AutoMessageOn
	}
	return c.AutoMessageOff
}
