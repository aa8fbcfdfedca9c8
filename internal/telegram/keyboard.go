package telegram

import (
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Callback data prefixes for the two selection steps.
const (
	startPickPrefix = "start"
	endPickPrefix   = "end"
)

// December day ranges offered by the two selection keyboards.
const (
	startDayFrom = 1
	startDayTo   = 31
	endDayFrom   = 24
	endDayTo     = 31
)

// dayGridKeyboard lays out day-number buttons seven per row, with callback
// data "<prefix>_<day>".
func dayGridKeyboard(prefix string, from, to int) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for day := from; day <= to; day++ {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			strconv.Itoa(day),
			fmt.Sprintf("%s_%d", prefix, day),
		))
		if len(row) == 7 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func startDaysKeyboard() tgbotapi.InlineKeyboardMarkup {
	return dayGridKeyboard(startPickPrefix, startDayFrom, startDayTo)
}

func endDaysKeyboard() tgbotapi.InlineKeyboardMarkup {
	return dayGridKeyboard(endPickPrefix, endDayFrom, endDayTo)
}
