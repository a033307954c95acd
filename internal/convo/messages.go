package convo

// ユーザー向けメッセージの定義。ボットの利用者はバングラデシュの
// 英語話者が中心のため、表示テキストは英語で統一する。

const (
	msgWelcome = "👋 Welcome to NESCO Meter Bot!\n\n" +
		"I keep an eye on your prepaid electricity balance.\n" +
		"Add your first meter with /add, or see /help for everything I can do."

	msgHelp = "📋 Available Commands:\n\n" +
		"/start - Start the bot\n" +
		"/add - Add a new meter\n" +
		"/list - List all your meters\n" +
		"/check - Check balances for all meters\n" +
		"/remove - Remove a meter\n" +
		"/minbalance - Set minimum balance alert\n" +
		"/reminder - Toggle the daily balance reminder\n" +
		"/report - Monthly usage report for current month\n" +
		"/cancel - Abort the current operation\n" +
		"/help - Show this help message\n\n" +
		"💡 How it works:\n" +
		"1. Add your meter(s) with /add\n" +
		"2. Check balances anytime with /check\n" +
		"3. Get alerts when balance is low\n" +
		"4. Receive a daily balance reminder"

	msgAddStart = "📝 Let's add a new meter!\n\n" +
		"Please send your meter number (e.g., 31041051783)\n" +
		"Send /cancel to abort."

	msgInvalidMeterNumber = "❌ Please send a valid meter number (only digits)"

	msgAskNickname = "Great! Now send a name for this meter (e.g., Home, Shop, Office)"

	msgInvalidNickname = "❌ Please send a short name for this meter (e.g., Home)"

	msgVerifyFailed = "❌ Could not verify the meter with NESCO right now. Please try again later."

	msgCancelled       = "Cancelled"
	msgNothingToCancel = "Nothing to cancel"

	msgNoMeters = "No meters found. Add one with /add"

	msgChooseMinBalance = "Select a meter to set its minimum balance alert:"
	msgAskMinAmount     = "Send the minimum balance amount in BDT (e.g., 100)"
	msgInvalidAmount    = "❌ Please send a valid non-negative number"

	msgChooseRemove = "Select a meter to remove:"

	msgUnknownSelection = "Invalid selection"

	msgNoUsageYet = "No usage recorded yet for this month. Try again after a balance check."

	msgHint = "I didn't catch that. Send /help to see what I can do, " +
		"or just say \"balance\" to check your meters."
)
