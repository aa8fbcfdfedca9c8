package delivery

// Preambles for on-demand deliveries; the gift text itself is appended.
const (
	repeatPreamble = "Сегодня ты уже получил свой подарок, вот повтор этого сообщения!\n\n"

	// %s is the fixed delivery time (HH:MM). The timezone is deployment
	// configuration, so the wording deliberately names no city.
	freshPreambleFmt = "Приветик!! Сегодня твой подарок еще не получен (он появляется сам каждый день в %s). Вот он сейчас :3!!\n\n"
)
