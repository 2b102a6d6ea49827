package safety

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	keywordConfidence  = 0.8
	buttonConfidence   = 0.9
	semanticConfidence = 0.6
)

// term is one phrase of a bilingual list. ASCII phrases match on word
// boundaries; CJK phrases match as substrings since they have no spaces.
type term struct {
	phrase   string
	category Category
	re       *regexp.Regexp
}

func (t term) find(text, lower string) string {
	if t.re != nil {
		return t.re.FindString(text)
	}
	if strings.Contains(lower, t.phrase) {
		return t.phrase
	}
	return ""
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func compileTerms(lists map[Category][]string) []term {
	var out []term
	for _, cat := range severityOrder {
		for _, phrase := range lists[cat] {
			t := term{phrase: strings.ToLower(phrase), category: cat}
			if isASCII(phrase) {
				t.re = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(phrase) + `\b`)
			}
			out = append(out, t)
		}
	}
	return out
}

var keywordTerms = compileTerms(map[Category][]string{
	CategoryDelete: {
		"delete", "remove", "erase", "destroy", "purge", "drop", "discard", "unsubscribe all",
		"删除", "移除", "清空", "销毁", "抹除",
	},
	CategoryPayment: {
		"pay", "payment", "purchase", "buy", "checkout", "place order", "transfer", "credit card",
		"billing", "subscribe", "donate",
		"支付", "付款", "购买", "下单", "转账", "结账", "充值", "订阅",
	},
	CategorySubmit: {
		"submit", "send", "publish", "post", "apply", "confirm",
		"提交", "发送", "发布", "确认",
	},
	CategoryAccount: {
		"logout", "log out", "sign out", "deactivate", "account", "password", "reset",
		"注销", "退出登录", "账号", "账户", "帐号", "密码",
	},
	CategoryPrivacy: {
		"share", "permission", "location", "contacts", "personal data", "consent", "camera", "microphone",
		"分享", "权限", "位置", "隐私", "个人信息", "通讯录",
	},
})

var semanticTerms = compileTerms(map[Category][]string{
	CategoryDelete: {
		"nuke", "wipe", "trash", "get rid of", "scrap", "clean out", "throw away",
		"干掉", "删掉", "清除掉", "扔掉",
	},
	CategoryPayment: {
		"check out", "cash out", "pay up", "splurge", "grab it", "add to cart and buy",
		"买单", "剁手", "付钱", "掏钱",
	},
	CategorySubmit: {
		"fire off", "send off", "push it", "ship it", "hit send",
		"发出去", "交上去", "提上去",
	},
	CategoryAccount: {
		"log me out", "kill my account", "close my account", "get me out",
		"退号", "销号", "登出",
	},
})

// buttonPattern is a regex over button-like text with its category.
type buttonPattern struct {
	category Category
	re       *regexp.Regexp
}

var buttonPatterns = []buttonPattern{
	{CategoryDelete, regexp.MustCompile(`(?i)confirm\s*(delete|deletion|removal)`)},
	{CategoryDelete, regexp.MustCompile(`(?i)delete\s*(permanently|forever|all)`)},
	{CategoryDelete, regexp.MustCompile(`(?i)yes,?\s*delete`)},
	{CategoryDelete, regexp.MustCompile(`确认删除|永久删除|全部删除`)},
	{CategoryPayment, regexp.MustCompile(`(?i)pay\s*now`)},
	{CategoryPayment, regexp.MustCompile(`(?i)place\s*(your\s*)?order`)},
	{CategoryPayment, regexp.MustCompile(`(?i)buy\s*now|complete\s*purchase|confirm\s*(payment|purchase)`)},
	{CategoryPayment, regexp.MustCompile(`立即支付|确认支付|立即购买|提交订单|确认付款`)},
	{CategoryAccount, regexp.MustCompile(`(?i)(delete|close|deactivate)\s*(my\s*|your\s*)?account`)},
	{CategoryAccount, regexp.MustCompile(`删除账号|删除帐号|注销账号|注销账户|注销帐号`)},
	{CategorySubmit, regexp.MustCompile(`(?i)submit\s*(application|form|request)|send\s*now`)},
	{CategorySubmit, regexp.MustCompile(`确认提交|立即提交|立即发送`)},
	{CategoryPrivacy, regexp.MustCompile(`(?i)allow\s*(access|location|camera|microphone)|share\s*(my\s*)?data`)},
	{CategoryPrivacy, regexp.MustCompile(`允许访问|同意授权|共享数据`)},
}

// Page classification keywords, matched against lowercase URL and title.
var pageTypeKeywords = []struct {
	pageType PageType
	words    []string
}{
	{PageCheckout, []string{"checkout", "cart", "payment", "/pay", "billing", "结账", "支付", "购物车", "收银台"}},
	{PageAdmin, []string{"admin", "dashboard", "console", "管理后台", "控制台"}},
	{PageSettings, []string{"settings", "preferences", "config", "设置", "偏好"}},
	{PageProfile, []string{"profile", "account", "my-account", "个人资料", "个人中心", "账户", "账号"}},
	{PageSignup, []string{"signup", "sign-up", "register", "join", "注册"}},
	{PageLogin, []string{"login", "signin", "sign-in", "log-in", "登录"}},
}

// HTML indicator keywords, matched against lowercase text and attribute values.
var (
	paymentIndicators = []string{
		"credit card", "card number", "cardnumber", "cc-number", "cvv", "cvc", "expiry", "expiration",
		"billing address", "pay now", "order total", "信用卡", "银行卡", "卡号", "支付", "付款", "应付金额",
	}
	deleteIndicators = []string{
		"delete", "remove", "permanently", "irreversible", "删除", "移除", "永久",
	}
	accountIndicators = []string{
		"current password", "new password", "deactivate", "close account", "delete account", "sign out",
		"two-factor", "修改密码", "注销", "删除账号", "退出登录",
	}
	warningPhrases = []string{
		"cannot be undone", "can't be undone", "irreversible", "permanently", "are you sure",
		"warning", "this action will", "you will lose",
		"无法撤销", "不可恢复", "永久", "确定要", "警告", "此操作将", "将无法",
	}
)

func containsAny(lower string, words []string) bool {
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
