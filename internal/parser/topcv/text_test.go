package topcv

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/job-crawler/internal/crawler"
)

func TestCleanListFormatting(t *testing.T) {
	t.Parallel()

	in := "• Viết API\n\n\n\n* Review code\n2) Viết test\n(iii) Tài liệu\n★ Mentoring\n1.5 năm kinh nghiệm là lợi thế"
	want := "- Viết API\n\n- Review code\n- Viết test\n- Tài liệu\n- Mentoring\n1.5 năm kinh nghiệm là lợi thế"
	require.Equal(t, want, cleanListFormatting(in))
	require.Equal(t, "", cleanListFormatting(""))
}

func TestCleanLocationText(t *testing.T) {
	t.Parallel()

	in := "- Hà Nội: Tầng 5, 18 Tam Trinh\n- Hồ Chí Minh: 12 Nguyễn Huệ, Quận 1"
	want := "Hà Nội Tầng 5, 18 Tam Trinh\nHồ Chí Minh 12 Nguyễn Huệ, Quận 1"
	require.Equal(t, want, cleanLocationText(in))
	require.Equal(t, "Đà Nẵng", cleanLocationText("Đà Nẵng"))
}

func TestApplySalary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		salary     string
		min, max   float64
		currency   string
		negotiable bool
		parsed     bool
	}{
		{salary: "15 - 25 triệu", min: 15, max: 25, currency: "triệu", parsed: true},
		{salary: "1.000 - 2.000 USD", min: 1000, max: 2000, currency: "usd", parsed: true},
		{salary: "Tới 30 triệu", min: 30, max: 30, currency: "triệu", parsed: true},
		{salary: "Thỏa thuận", negotiable: true},
		{salary: "Thoả thuận", negotiable: true},
		{salary: "Cạnh tranh"},
	}
	for _, tc := range tests {
		rec := crawler.JobRecord{Salary: tc.salary}
		applySalary(&rec)
		require.Equal(t, tc.negotiable, rec.SalaryNegotiable, tc.salary)
		if !tc.parsed {
			require.Nil(t, rec.SalaryMin, tc.salary)
			require.Empty(t, rec.SalaryCurrency, tc.salary)
			continue
		}
		require.InDelta(t, tc.min, *rec.SalaryMin, 0, tc.salary)
		require.InDelta(t, tc.max, *rec.SalaryMax, 0, tc.salary)
		require.Equal(t, tc.currency, rec.SalaryCurrency, tc.salary)
	}
}
