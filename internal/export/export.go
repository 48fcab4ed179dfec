// Package export 把运行结束后的线索记录写成表格文件。
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/xuri/excelize/v2"

	xerrors "LeadFlow/internal/errors"
	"LeadFlow/internal/state"
)

// SheetName 是工作簿中唯一的工作表名称。
const SheetName = "Leads"

// DefaultFileName 是未指定输出路径时使用的文件名。
const DefaultFileName = "leads_data.xlsx"

// Header 与 state.Lead 的字段一一对应。
var Header = []string{
	"full_name",
	"designation",
	"employee_count",
	"email",
	"linkedin_url",
	"mobile_number",
	"company_name",
	"company_website",
	"company_details",
	"company_type",
	"personalized_email_subject",
	"personalized_email_body",
	"website_inaccessible",
	"security_error",
}

// Row 把一条记录转换为与 Header 对齐的文本列。
func Row(lead state.Lead) []string {
	return []string{
		lead.FullName,
		lead.Designation,
		lead.EmployeeCount,
		lead.Email,
		lead.LinkedInURL,
		lead.MobileNumber,
		lead.CompanyName,
		lead.CompanyWebsite,
		lead.CompanyDetails,
		lead.CompanyType,
		lead.EmailSubject,
		lead.EmailBody,
		strconv.FormatBool(lead.WebsiteInaccessible),
		strconv.FormatBool(lead.SecurityError),
	}
}

// Rows 返回表头加全部记录。
func Rows(leads []state.Lead) [][]string {
	rows := make([][]string, 0, len(leads)+1)
	rows = append(rows, append([]string(nil), Header...))
	for _, lead := range leads {
		rows = append(rows, Row(lead))
	}
	return rows
}

// WriteXLSX 生成单工作表的 xlsx 并写入 w。
func WriteXLSX(w io.Writer, leads []state.Lead) error {
	book, err := buildWorkbook(leads)
	if err != nil {
		return err
	}
	defer book.Close()

	if _, err := book.WriteTo(w); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写出 xlsx 失败")
	}
	return nil
}

// SaveXLSX 把 xlsx 保存到 path，必要时创建父目录。
func SaveXLSX(path string, leads []state.Lead) error {
	if path == "" {
		path = DefaultFileName
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建导出目录失败")
		}
	}

	book, err := buildWorkbook(leads)
	if err != nil {
		return err
	}
	defer book.Close()

	if err := book.SaveAs(path); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("保存 %s 失败", path))
	}
	return nil
}

// WriteCSV 以 CSV 格式写出表头与记录。
func WriteCSV(w io.Writer, leads []state.Lead) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(Rows(leads)); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写出 csv 失败")
	}
	return nil
}

func buildWorkbook(leads []state.Lead) (*excelize.File, error) {
	book := excelize.NewFile()
	if err := book.SetSheetName(book.GetSheetName(0), SheetName); err != nil {
		book.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化工作表失败")
	}

	for i, row := range Rows(leads) {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			book.Close()
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "计算单元格坐标失败")
		}
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := book.SetSheetRow(SheetName, cell, &values); err != nil {
			book.Close()
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入记录失败")
		}
	}
	return book, nil
}
