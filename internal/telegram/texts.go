package telegram

// User-facing texts.
const (
	startText = "Приветик!! С наступающим :3 Выбери дату, с которой начнется твой адвент-календарь!"

	// %s is the fixed delivery time (HH:MM).
	pickEndFmt = "Отлично! Теперь, с сегодняшнего дня, каждый день в %s " +
		"будет приходить твой подарочек!! А теперь выбери конечную дату!"

	planReadyText = "Ураа! Твой адвент-календарь готов!"

	endBeforeStartText = "Конечная дата не может быть раньше начальной. Выбери заново конец (24–31 декабря)."
	windowFinishedText = "Эти даты уже прошли. Напиши /start и выбери даты заново!"
	selectionLostText  = "Не нашёл выбранную начальную дату. Напиши /start, чтобы выбрать заново."

	notConfiguredText = "Похоже, ты ещё не настроил свой адвент-календарь. Напиши /start!"
	cancelText        = "Диалог завершен. Напиши /start, чтобы начать заново."
	errorText         = "Что-то пошло не так, попробуй ещё раз позже."

	helpText = "Похоже, тебе нужна помощь! Держи список всех команд и что они делают =)\n\n" +
		"/start: запуск бота: выбрать даты адвента;\n" +
		"/gift: получить сегодняшнее сообщение (или повтор, если уже получал/получала);\n" +
		"/help: список команд;\n" +
		"/time: показать текущее время бота.\n"

	// Time, then the IANA zone it is shown in.
	timeFmt        = "Сейчас %s (%s)"
	subscribersFmt = "Сейчас подписчиков: %d"
)
