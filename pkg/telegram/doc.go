/*
Package telegram implements the chat bot control surface.

Updates arrive on the webhook and are acknowledged at once; each one is then
handled in the background. Only users listed in telegram.admin_ids may issue
commands, everyone else gets a permission denied reply.

Commands:

	/start, /help    usage
	/list            enabled apps with state and lock icons
	/status <app>    app state, instances and lock
	/run <app>       force start (trigger "telegram")
	/runall          force start every enabled app
	/unlock <app>    delete today's lock
	/unlockall       delete today's held locks for enabled apps

Callback data from inline buttons (list_apps, startapp_<app>, ...) maps onto
the same commands. Replies use the Bot API sendMessage method in HTML parse
mode.

A Notifier subscribes to the outcome event broker and reports failed starts
and sweeps with failures to every admin chat.
*/
package telegram
