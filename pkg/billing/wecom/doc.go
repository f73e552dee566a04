// Package wecom classifies enterprise marketplace callbacks into billing events.
//
// The intake gateway decrypts marketplace callbacks and forwards them as JSON:
//
//	{"info_type": "pay_for_app_success", "suite_id": "ww1", "timestamp": 1700000000,
//	 "order": {"order_id": "o-1", "paid_corp_id": "corp", "order_type": 0,
//	           "edition_id": "pro", "user_count": 10, "order_period": 365,
//	           "begin_time": 1700000000, "end_time": 1731536000}}
//
// Order type flags map to billing order types: 0 new, 1 upgrade (seat expansion),
// 2 renew, 3 edition change. Refund callbacks carry "refund": {"order_id", "paid_corp_id"}.
// Authorization callbacks (create_auth, change_auth, change_edition) carry
// "auth": {"auth_corp_id", "edition_id", "app_status", "expired_time"} and become
// trial grants for app status 1 (timed trial), 2 (expired trial) and 5 (unlimited trial).
//
// When a secret is configured the gateway signature (see package webhook) is verified.
package wecom
