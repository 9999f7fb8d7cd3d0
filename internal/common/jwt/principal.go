package jwt

// Principal 请求主体，只有下面三种实现
type Principal interface {
	principal()
}

// AdminPrincipal 管理员
type AdminPrincipal struct {
	AdminID int64
}

// AffiliatePrincipal 推广员本人
type AffiliatePrincipal struct {
	UserID      int64
	AffiliateID int64
}

// AnonymousPrincipal 未登录或令牌无效
type AnonymousPrincipal struct{}

func (AdminPrincipal) principal()     {}
func (AffiliatePrincipal) principal() {}
func (AnonymousPrincipal) principal() {}

// Principal 由声明得到请求主体，无法识别的组合一律视为匿名
func (c *Claims) Principal() Principal {
	if c == nil {
		return AnonymousPrincipal{}
	}
	switch c.UserType {
	case UserTypeAdmin:
		if c.UserID > 0 {
			return AdminPrincipal{AdminID: c.UserID}
		}
	case UserTypeAffiliate:
		if c.AffiliateID > 0 {
			return AffiliatePrincipal{UserID: c.UserID, AffiliateID: c.AffiliateID}
		}
	}
	return AnonymousPrincipal{}
}
